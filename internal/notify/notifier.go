package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
)

const (
	// DefaultTag groups notifications so a newer one replaces an older one on the client
	DefaultTag = "currency-notifier"

	// TestTitle and TestBody are used by the test notification
	TestTitle = "Rate Notifier"
	TestBody  = "This is a test notification. You’re all set!"
)

// Notifier delivers a user-facing notification
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(ctx context.Context, title, body string) error

func (f NotifierFunc) Notify(ctx context.Context, title, body string) error {
	return f(ctx, title, body)
}

// NewNotification builds the payload shared by every delivery sink
func NewNotification(title, body string) *models.Notification {
	return &models.Notification{
		ID:        uuid.New().String(),
		Title:     title,
		Body:      body,
		Tag:       DefaultTag,
		Timestamp: time.Now().UTC(),
	}
}

// Permission mirrors the three states of a browser notification permission
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// ParsePermission validates a permission value
func ParsePermission(value string) (Permission, error) {
	switch p := Permission(value); p {
	case PermissionGranted, PermissionDenied, PermissionDefault:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", models.ErrInvalidPermission, value)
}

// Gate forwards notifications to its sink only while permission is granted
type Gate struct {
	mu         sync.RWMutex
	permission Permission
	sink       Notifier
}

// NewGate wraps sink behind a permission check
func NewGate(sink Notifier, permission Permission) *Gate {
	if sink == nil {
		panic("notification sink cannot be nil")
	}
	if _, err := ParsePermission(string(permission)); err != nil {
		permission = PermissionDefault
	}
	return &Gate{sink: sink, permission: permission}
}

// Permission returns the current permission
func (g *Gate) Permission() Permission {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.permission
}

// SetPermission changes the permission
func (g *Gate) SetPermission(permission Permission) error {
	if _, err := ParsePermission(string(permission)); err != nil {
		return err
	}

	g.mu.Lock()
	previous := g.permission
	g.permission = permission
	g.mu.Unlock()

	if previous != permission {
		logger.Info("Notification permission changed",
			logger.String("from", string(previous)),
			logger.String("to", string(permission)),
		)
	}
	return nil
}

// Notify delivers the notification, or returns ErrPermissionDenied
func (g *Gate) Notify(ctx context.Context, title, body string) error {
	if g.Permission() != PermissionGranted {
		return models.ErrPermissionDenied
	}
	return g.sink.Notify(ctx, title, body)
}

// SendTest sends the fixed test notification through the gate
func (g *Gate) SendTest(ctx context.Context) error {
	return g.Notify(ctx, TestTitle, TestBody)
}

// LogNotifier writes notifications to the structured log
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, title, body string) error {
	logger.WithContext(ctx).Info("Notification",
		logger.String("title", title),
		logger.String("body", body),
	)
	return nil
}

// Multi fans a notification out to several sinks. Every sink is attempted;
// the failures are joined into the returned error.
type Multi struct {
	sinks []Notifier
}

// NewMulti creates a fan-out notifier, ignoring nil sinks
func NewMulti(sinks ...Notifier) *Multi {
	m := &Multi{}
	for _, sink := range sinks {
		if sink != nil {
			m.sinks = append(m.sinks, sink)
		}
	}
	return m
}

// Len returns the number of sinks
func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) Notify(ctx context.Context, title, body string) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Notify(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
