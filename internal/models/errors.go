package models

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotParticipant       = errors.New("user is not a participant")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrValidation           = errors.New("validation failed")
)
