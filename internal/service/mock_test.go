package service

import (
	"context"
	"errors"

	"realtime-service/internal/domain"
)

var errStoreDown = errors.New("store down")

// failingPresenceStore fails every call, counting them.
type failingPresenceStore struct {
	calls int
}

func (f *failingPresenceStore) fail() error {
	f.calls++
	return errStoreDown
}

func (f *failingPresenceStore) SetPresence(context.Context, string, domain.PresenceRecord) error {
	return f.fail()
}

func (f *failingPresenceStore) GetPresence(context.Context, string) (*domain.PresenceRecord, error) {
	return nil, f.fail()
}

func (f *failingPresenceStore) DeletePresence(context.Context, string) error {
	return f.fail()
}

func (f *failingPresenceStore) AddWorkspaceMember(context.Context, string, domain.WorkspaceMember) error {
	return f.fail()
}

func (f *failingPresenceStore) RemoveWorkspaceMember(context.Context, string, string) error {
	return f.fail()
}

func (f *failingPresenceStore) UpdateWorkspaceMemberStatus(context.Context, string, string, domain.PresenceStatus) error {
	return f.fail()
}

func (f *failingPresenceStore) GetWorkspaceMembers(context.Context, string) ([]domain.WorkspaceMember, error) {
	return nil, f.fail()
}

func (f *failingPresenceStore) SetTyping(context.Context, string, string, domain.TypingEntry) error {
	return f.fail()
}

func (f *failingPresenceStore) ClearTyping(context.Context, string, string, string) error {
	return f.fail()
}

func (f *failingPresenceStore) GetTyping(context.Context, string, string) ([]domain.TypingEntry, error) {
	return nil, f.fail()
}

func (f *failingPresenceStore) Ping(context.Context) error {
	return f.fail()
}
