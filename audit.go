package bulkbatch

import (
	"context"
	"sync"
)

// AuditLog toggle for user operation log entries written by the engine runtime
type AuditLog interface {
	Disable()
	Enable()
	IsEnabled() bool
	// SetRestrictToAuthenticatedUsers sets the flag and returns the previous value
	SetRestrictToAuthenticatedUsers(restrict bool) bool
	IsRestrictedToAuthenticatedUsers() bool
}

// AuditLogSettings default AuditLog implementation
type AuditLogSettings struct {
	mu       sync.Mutex
	enabled  bool
	restrict bool
}

// NewAuditLogSettings settings with the given initial flags
func NewAuditLogSettings(enabled, restrictToAuthenticatedUsers bool) *AuditLogSettings {
	return &AuditLogSettings{enabled: enabled, restrict: restrictToAuthenticatedUsers}
}

func (s *AuditLogSettings) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
}

func (s *AuditLogSettings) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = true
}

func (s *AuditLogSettings) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *AuditLogSettings) SetRestrictToAuthenticatedUsers(restrict bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.restrict
	s.restrict = restrict
	return prev
}

func (s *AuditLogSettings) IsRestrictedToAuthenticatedUsers() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restrict
}

// AuditLogScope suppression of an AuditLog that Release undoes
type AuditLogScope struct {
	log          AuditLog
	wasEnabled   bool
	prevRestrict bool
	once         sync.Once
}

// SuppressAuditLog disables log and forces restrict-to-authenticated-users; callers defer Release.
func SuppressAuditLog(log AuditLog) *AuditLogScope {
	scope := &AuditLogScope{log: log, wasEnabled: log.IsEnabled()}
	log.Disable()
	scope.prevRestrict = log.SetRestrictToAuthenticatedUsers(true)
	return scope
}

// Release restores the flags seen when the scope was opened. Safe to call more than once.
func (s *AuditLogScope) Release() {
	s.once.Do(func() {
		if s.wasEnabled {
			s.log.Enable()
		} else {
			s.log.Disable()
		}
		s.log.SetRestrictToAuthenticatedUsers(s.prevRestrict)
	})
}

type auditLogKey struct{}

// WithAuditLog attaches log to ctx so collaborators called with ctx can honour it
func WithAuditLog(ctx context.Context, log AuditLog) context.Context {
	return context.WithValue(ctx, auditLogKey{}, log)
}

// AuditLogFromContext the AuditLog attached by WithAuditLog, or nil
func AuditLogFromContext(ctx context.Context) AuditLog {
	log, _ := ctx.Value(auditLogKey{}).(AuditLog)
	return log
}
