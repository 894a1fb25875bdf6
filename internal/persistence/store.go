// Package persistence is the hub's client for the external message
// store. The relational database itself is owned by the REST service;
// the hub only calls its API.
package persistence

import (
	"context"
	"errors"

	"github.com/chatterstack/chatterhub/internal/types"
)

var (
	// ErrNotFound indicates the message or room does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the acting user is not authorized for the
	// operation, e.g. editing a message they did not author.
	ErrForbidden = errors.New("forbidden")
)

type Store interface {
	CreateMessage(ctx context.Context, roomId, userId, content string) (types.Message, error)
	UpdateMessage(ctx context.Context, roomId, messageId, userId, content string) (types.Message, error)
	DeleteMessage(ctx context.Context, roomId, messageId, userId string) error
	GetRoomMembers(ctx context.Context, roomId string) ([]string, error)
}
