package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateUserRequest struct {
	Email          string
	InitialCredits int64
}

type Service interface {
	Create(ctx context.Context, req CreateUserRequest) (*User, error)
	FindByID(ctx context.Context, id snowflake.ID) (*User, error)
	SetActiveOrganization(ctx context.Context, id snowflake.ID, orgID *snowflake.ID) error
}

var (
	ErrUserNotFound  = errors.New("user_not_found")
	ErrInvalidEmail  = errors.New("invalid_email")
	ErrInvalidUserID = errors.New("invalid_user_id")
	ErrEmailTaken    = errors.New("email_taken")
	ErrInvalidAmount = errors.New("invalid_initial_credits")
)
