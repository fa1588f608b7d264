package setting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/setting/entity"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/setting/repo"
)

// ErrNotFound is returned when a setting is neither stored nor defaulted.
var ErrNotFound = errors.New("setting not found")

// Service resolves settings from the database first and from Defaults second.
type Service struct {
	repo     *repo.Repo
	defaults map[string]string
	logger   *zap.SugaredLogger
}

// NewService constructs a Service with the provided repository and fallback values.
func NewService(r *repo.Repo, defaults map[string]string, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if defaults == nil {
		defaults = map[string]string{}
	}
	return &Service{repo: r, defaults: defaults, logger: logger}
}

// DefaultsFromEnv reads the token lifetime fallbacks from env vars.
func DefaultsFromEnv() map[string]string {
	out := map[string]string{}
	if v := os.Getenv("ACTIVATION_TOKEN_LIFETIME_HOURS"); v != "" {
		out["activation_token_lifetime"] = v
	}
	if v := os.Getenv("PASSWORD_RESET_TOKEN_LIFETIME_HOURS"); v != "" {
		out["password_reset_token_lifetime"] = v
	}
	return out
}

// Get returns the raw value of name.
func (s *Service) Get(ctx context.Context, name string) (string, error) {
	st, err := s.repo.GetByName(ctx, name)
	if err == nil {
		return st.Value, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if v, ok := s.defaults[name]; ok {
		s.logger.Debugw("setting from defaults", "name", name)
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// LifetimeHours returns name as a whole number of hours.
func (s *Service) LifetimeHours(ctx context.Context, name string) (int, error) {
	v, err := s.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("setting %s: invalid hours %q", name, v)
	}
	return n, nil
}

// List returns the effective settings ordered by name: every stored row, plus
// the defaults that have no row.
func (s *Service) List(ctx context.Context) ([]*entity.Setting, error) {
	stored, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(stored))
	out := make([]*entity.Setting, 0, len(stored)+len(s.defaults))
	for _, st := range stored {
		seen[st.Name] = struct{}{}
		out = append(out, st)
	}
	for name, v := range s.defaults {
		if _, ok := seen[name]; !ok {
			out = append(out, entity.NewSetting(name, v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
