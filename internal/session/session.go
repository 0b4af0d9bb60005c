package session

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"kiosk/internal/domain"
	"kiosk/pkg/util"
)

var ErrNoSession = errors.New("no active session")

// State is what survives a restart.
type State struct {
	Token     string              `msgpack:"token"`
	Profile   *domain.UserProfile `msgpack:"profile,omitempty"`
	UpdatedAt time.Time           `msgpack:"updated_at"`
}

// FileStore keeps State in a msgpack file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

// Load returns an empty State when the file does not exist yet.
func (s *FileStore) Load() (State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state: %w", err)
	}

	var st State
	if err := msgpack.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

func (s *FileStore) Save(st State) error {
	data, err := msgpack.Marshal(&st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// ProfileFetcher loads the profile behind a token.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, token string) (domain.UserProfile, error)
}

// Context is the explicit session handed to everything that talks to the
// server on behalf of the user.
type Context struct {
	store     *FileStore
	forbidden func(error) bool

	mu    sync.RWMutex
	state State
}

// Load restores the session from store. A non-empty seed token replaces the
// stored one and drops the cached profile if it differs.
func Load(store *FileStore, seed string, forbidden func(error) bool) (*Context, error) {
	st, err := store.Load()
	if err != nil {
		return nil, err
	}

	c := &Context{store: store, forbidden: forbidden, state: st}
	if seed != "" && seed != st.Token {
		log.Info("Using configured access code")
		c.state = State{Token: seed, UpdatedAt: time.Now()}
		if err := store.Save(c.state); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Context) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Token
}

// Profile returns the cached profile, if one was fetched.
func (c *Context) Profile() (domain.UserProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.Profile == nil {
		return domain.UserProfile{}, false
	}
	return *c.state.Profile, true
}

// Active reports whether there is a token to act with.
func (c *Context) Active() bool { return c.Token() != "" }

// Refresh reloads the profile. A forbidden response ends the session.
func (c *Context) Refresh(ctx context.Context, fetcher ProfileFetcher) error {
	token := c.Token()
	if token == "" {
		return ErrNoSession
	}

	p, err := fetcher.FetchProfile(ctx, token)
	if err != nil {
		if c.forbidden != nil && c.forbidden(err) {
			log.Warn("Access code rejected, clearing session")
			if cerr := c.Clear(); cerr != nil {
				log.Error("Failed to persist cleared session", "err", cerr)
			}
			return ErrNoSession
		}
		return err
	}

	c.mu.Lock()
	if old := c.state.Profile; old != nil && !util.SameKeys(old.Contacts, p.Contacts, contactKey) {
		log.Info("Contacts changed", "before", len(old.Contacts), "after", len(p.Contacts))
	}
	c.state.Profile = &p
	c.state.UpdatedAt = time.Now()
	st := c.state
	c.mu.Unlock()

	log.Debug("Profile refreshed", "name", p.Name, "contacts", len(p.Contacts), "backgrounds", len(p.Backgrounds))
	return c.store.Save(st)
}

// Clear forgets the token and the profile.
func (c *Context) Clear() error {
	c.mu.Lock()
	c.state = State{UpdatedAt: time.Now()}
	st := c.state
	c.mu.Unlock()
	return c.store.Save(st)
}

// RefreshEvery refreshes the profile until ctx is done.
func (c *Context) RefreshEvery(ctx context.Context, fetcher ProfileFetcher, every time.Duration, onChange func(domain.UserProfile)) error {
	refresh := func() {
		if !c.Active() {
			return
		}
		if err := c.Refresh(ctx, fetcher); err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warn("Profile refresh failed", "err", err)
			}
			return
		}
		if p, ok := c.Profile(); ok && onChange != nil {
			onChange(p)
		}
	}

	refresh()
	if every <= 0 {
		<-ctx.Done()
		return nil
	}

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			refresh()
		}
	}
}

func contactKey(c domain.Contact) string {
	return c.ID + "\x00" + c.Name
}
