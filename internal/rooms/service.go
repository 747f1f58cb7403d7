package rooms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew = "rooms.service.new"
	opCreateRoom = "rooms.create_room"
	opGetRoom    = "rooms.get_room"
	opLoadState  = "rooms.load_state"
	opSaveState  = "rooms.save_state"

	fieldRoomCode = "room_code"

	reasonMissingDatabase     = "missing_database"
	reasonMissingCodeProvider = "missing_code_provider"
	reasonCodeGenFailed       = "code_generation_failed"
	reasonCodeExhausted       = "code_space_exhausted"
	reasonInsertFailed        = "insert_failed"
	reasonQueryFailed         = "query_failed"
	reasonUpsertFailed        = "upsert_failed"

	createRetryLimit = 5
)

var (
	errMissingDatabase     = errors.New("database handle is required")
	errMissingCodeProvider = errors.New("code provider is required")
	errCodeSpaceExhausted  = errors.New("could not generate an unused room code")
	noOpLogger             = zap.NewNop()
)

// ServiceError carries a stable op.reason code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable op.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies for the room service.
type ServiceConfig struct {
	Database     *gorm.DB
	Clock        func() time.Time
	CodeProvider CodeProvider
	Logger       *zap.Logger
}

// Service persists rooms and their serialized document state, keyed only by
// room code.
type Service struct {
	db           *gorm.DB
	clock        func() time.Time
	codeProvider CodeProvider
	logger       *zap.Logger
}

// NewService constructs the room service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.CodeProvider == nil {
		return nil, newServiceError(opServiceNew, reasonMissingCodeProvider, errMissingCodeProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:           cfg.Database,
		clock:        clock,
		codeProvider: cfg.CodeProvider,
		logger:       logger,
	}, nil
}

// Create generates an unused room code and persists an empty room row.
func (s *Service) Create(ctx context.Context) (Room, error) {
	for attempt := 0; attempt < createRetryLimit; attempt++ {
		code, err := s.codeProvider.NewCode()
		if err != nil {
			s.logError(opCreateRoom, reasonCodeGenFailed, err)
			return Room{}, newServiceError(opCreateRoom, reasonCodeGenFailed, err)
		}

		now := s.clock().UTC().Unix()
		room := Room{
			Code:                code.String(),
			CreatedAtSeconds:    now,
			LastActiveAtSeconds: now,
		}
		result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&room)
		if result.Error != nil {
			s.logError(opCreateRoom, reasonInsertFailed, result.Error, zap.String(fieldRoomCode, code.String()))
			return Room{}, newServiceError(opCreateRoom, reasonInsertFailed, result.Error)
		}
		if result.RowsAffected == 0 {
			// Collision with an existing code; try a fresh one.
			continue
		}
		return room, nil
	}

	s.logError(opCreateRoom, reasonCodeExhausted, errCodeSpaceExhausted)
	return Room{}, newServiceError(opCreateRoom, reasonCodeExhausted, errCodeSpaceExhausted)
}

// Get returns the persisted room for a code or ErrRoomNotFound.
func (s *Service) Get(ctx context.Context, code RoomCode) (Room, error) {
	var room Room
	err := s.db.WithContext(ctx).
		Where("code = ?", code.String()).
		Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Room{}, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	if err != nil {
		s.logError(opGetRoom, reasonQueryFailed, err, zap.String(fieldRoomCode, code.String()))
		return Room{}, newServiceError(opGetRoom, reasonQueryFailed, err)
	}
	return room, nil
}

// LoadState returns the persisted document state for a room code, or nil when
// the room has never been persisted. Missing rooms are not an error here: the
// sync layer falls back to an empty document.
func (s *Service) LoadState(ctx context.Context, code RoomCode) ([]byte, error) {
	room, err := s.Get(ctx, code)
	if errors.Is(err, ErrRoomNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return room.DocState, nil
}

// SaveState upserts the full serialized document state for a room code and
// refreshes its last-active timestamp.
func (s *Service) SaveState(ctx context.Context, code RoomCode, state []byte) error {
	now := s.clock().UTC().Unix()
	room := Room{
		Code:                code.String(),
		DocState:            state,
		CreatedAtSeconds:    now,
		LastActiveAtSeconds: now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"doc_state", "last_active_at_s"}),
	}).Create(&room).Error
	if err != nil {
		s.logError(opSaveState, reasonUpsertFailed, err, zap.String(fieldRoomCode, code.String()))
		return newServiceError(opSaveState, reasonUpsertFailed, err)
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("room service error", attrs...)
}
