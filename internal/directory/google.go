package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/hnrobert/nssync/internal/identity"
	"github.com/hnrobert/nssync/internal/logger"
)

// pageSize is the Admin SDK maximum for users, groups and members.
const pageSize = 200

type GoogleOptions struct {
	// KeyFile is a service account JSON key with domain-wide delegation.
	KeyFile string
	// Impersonate is the admin account the service account acts as.
	Impersonate string
	Customer    string
	// Domain restricts listing to one domain and takes precedence over Customer.
	Domain     string
	RPS        float64
	MaxRetries int
	// RetryBase is the first backoff delay. Defaults to one second.
	RetryBase time.Duration
	// ReadWrite requests the user write scope needed by SetPosixAccount.
	ReadWrite bool
	// ClientOptions replace key file authentication when set.
	ClientOptions []option.ClientOption
}

// Google reads users, groups and memberships from the Admin SDK Directory API.
type Google struct {
	svc     *admin.Service
	opts    GoogleOptions
	limiter *rate.Limiter
}

var _ Source = (*Google)(nil)

func NewGoogle(ctx context.Context, opts GoogleOptions) (*Google, error) {
	clientOpts := opts.ClientOptions
	if len(clientOpts) == 0 {
		key, err := os.ReadFile(opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read service account key: %w", err)
		}
		scopes := []string{
			admin.AdminDirectoryUserReadonlyScope,
			admin.AdminDirectoryGroupReadonlyScope,
			admin.AdminDirectoryGroupMemberReadonlyScope,
		}
		if opts.ReadWrite {
			scopes[0] = admin.AdminDirectoryUserScope
		}
		jwtCfg, err := google.JWTConfigFromJSON(key, scopes...)
		if err != nil {
			return nil, fmt.Errorf("parse service account key: %w", err)
		}
		jwtCfg.Subject = opts.Impersonate
		clientOpts = []option.ClientOption{option.WithTokenSource(jwtCfg.TokenSource(ctx))}
	}

	svc, err := admin.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create directory client: %w", err)
	}

	if opts.Customer == "" && opts.Domain == "" {
		opts.Customer = "my_customer"
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	return &Google{svc: svc, opts: opts, limiter: rate.NewLimiter(limit, 1)}, nil
}

// call paces and retries one API request. Rate limiting and server errors
// are retried with capped exponential backoff; anything else is returned.
func (g *Google) call(ctx context.Context, what string, fn func(ctx context.Context) error) error {
	b := retry.NewExponential(g.opts.RetryBase)
	b = retry.WithCappedDuration(32*time.Second, b)
	if j := g.opts.RetryBase / 2; j > 0 {
		b = retry.WithJitter(j, b)
	}
	b = retry.WithMaxRetries(uint64(max(g.opts.MaxRetries, 0)), b)

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		if err != nil && retryable(err) {
			attempt++
			logger.Debug("directory %s: attempt %d failed, backing off: %v", what, attempt, err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func retryable(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	for _, item := range apiErr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}

func notFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func (g *Google) Users(ctx context.Context) ([]identity.DirectoryUser, error) {
	var out []identity.DirectoryUser
	token := ""
	for {
		call := g.svc.Users.List().Projection("full").OrderBy("email").MaxResults(pageSize)
		if g.opts.Domain != "" {
			call = call.Domain(g.opts.Domain)
		} else {
			call = call.Customer(g.opts.Customer)
		}
		if token != "" {
			call = call.PageToken(token)
		}

		var resp *admin.Users
		err := g.call(ctx, "list users", func(ctx context.Context) error {
			var err error
			resp, err = call.Context(ctx).Do()
			return err
		})
		if err != nil {
			return nil, &Error{Op: "list users", Err: err}
		}
		for _, u := range resp.Users {
			du, err := userFromAPI(u)
			if err != nil {
				logger.Warn("directory user %s: %v", u.Id, err)
				continue
			}
			out = append(out, du)
		}
		if token = resp.NextPageToken; token == "" {
			break
		}
	}
	logger.Debug("fetched %d users", len(out))
	return out, nil
}

func (g *Google) Groups(ctx context.Context) ([]identity.DirectoryGroup, error) {
	var out []identity.DirectoryGroup
	token := ""
	for {
		call := g.svc.Groups.List().MaxResults(pageSize)
		if g.opts.Domain != "" {
			call = call.Domain(g.opts.Domain)
		} else {
			call = call.Customer(g.opts.Customer)
		}
		if token != "" {
			call = call.PageToken(token)
		}

		var resp *admin.Groups
		err := g.call(ctx, "list groups", func(ctx context.Context) error {
			var err error
			resp, err = call.Context(ctx).Do()
			return err
		})
		if err != nil {
			return nil, &Error{Op: "list groups", Err: err}
		}
		for _, grp := range resp.Groups {
			out = append(out, identity.DirectoryGroup{
				ID:    grp.Id,
				Email: grp.Email,
				State: identity.LifecycleActive,
			})
		}
		if token = resp.NextPageToken; token == "" {
			break
		}
	}

	for i := range out {
		members, err := g.members(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Members = members
	}
	logger.Debug("fetched %d groups", len(out))
	return out, nil
}

// members lists the active user members of a group. A group deleted
// between listing and this call has no members.
func (g *Google) members(ctx context.Context, groupKey string) ([]string, error) {
	var out []string
	token := ""
	for {
		call := g.svc.Members.List(groupKey).MaxResults(pageSize)
		if token != "" {
			call = call.PageToken(token)
		}

		var resp *admin.Members
		err := g.call(ctx, "list members of "+groupKey, func(ctx context.Context) error {
			var err error
			resp, err = call.Context(ctx).Do()
			return err
		})
		if notFound(err) {
			logger.Debug("group %s vanished while listing members", groupKey)
			return nil, nil
		}
		if err != nil {
			return nil, &Error{Op: "list members of " + groupKey, Err: err}
		}
		for _, m := range resp.Members {
			if keepMember(m) {
				out = append(out, m.Id)
			}
		}
		if token = resp.NextPageToken; token == "" {
			break
		}
	}
	return out, nil
}

func keepMember(m *admin.Member) bool {
	if m == nil || m.Id == "" {
		return false
	}
	if !strings.EqualFold(m.Type, "USER") {
		return false
	}
	return m.Status == "" || strings.EqualFold(m.Status, "ACTIVE")
}

func userFromAPI(u *admin.User) (identity.DirectoryUser, error) {
	du := identity.DirectoryUser{
		ID:    u.Id,
		Email: u.PrimaryEmail,
		State: identity.LifecycleActive,
	}
	if u.Name != nil {
		du.FullName = u.Name.FullName
	}
	switch {
	case u.DeletionTime != "":
		du.State = identity.LifecycleDeleted
	case u.Suspended:
		du.State = identity.LifecycleSuspended
	}

	accounts, err := decodePosixAccounts(u.PosixAccounts)
	if err != nil {
		return du, err
	}
	du.Posix = pickPosixAccount(accounts)
	du.ExtraPosix = otherPosixAccounts(accounts)
	return du, nil
}

// posixAccount mirrors the Admin SDK posixAccounts entry. uid and gid arrive
// as strings or numbers depending on how the account was written.
type posixAccount struct {
	Username      string  `json:"username"`
	UID           flexInt `json:"uid"`
	GID           flexInt `json:"gid"`
	HomeDirectory string  `json:"homeDirectory"`
	Shell         string  `json:"shell"`
	Gecos         string  `json:"gecos"`
	Primary       bool    `json:"primary"`
}

type flexInt struct {
	v   int
	set bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("posix id %s: %w", b, err)
	}
	f.v, f.set = n, true
	return nil
}

func (f flexInt) ptr() *int {
	if !f.set {
		return nil
	}
	v := f.v
	return &v
}

func decodePosixAccounts(raw interface{}) ([]posixAccount, error) {
	if raw == nil {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var accounts []posixAccount
	if err := json.Unmarshal(b, &accounts); err != nil {
		return nil, fmt.Errorf("decode posixAccounts: %w", err)
	}
	return accounts, nil
}

func primaryIndex(accounts []posixAccount) int {
	if len(accounts) == 0 {
		return -1
	}
	for i, a := range accounts {
		if a.Primary {
			return i
		}
	}
	return 0
}

func (a posixAccount) toIdentity() identity.PosixAccount {
	return identity.PosixAccount{
		Username: a.Username,
		UID:      a.UID.ptr(),
		GID:      a.GID.ptr(),
		Home:     a.HomeDirectory,
		Shell:    a.Shell,
		Gecos:    a.Gecos,
	}
}

// pickPosixAccount prefers the account flagged primary, else the first.
func pickPosixAccount(accounts []posixAccount) *identity.PosixAccount {
	i := primaryIndex(accounts)
	if i < 0 {
		return nil
	}
	p := accounts[i].toIdentity()
	return &p
}

// otherPosixAccounts is every account pickPosixAccount passed over.
func otherPosixAccounts(accounts []posixAccount) []identity.PosixAccount {
	pick := primaryIndex(accounts)
	var out []identity.PosixAccount
	for i, a := range accounts {
		if i != pick {
			out = append(out, a.toIdentity())
		}
	}
	return out
}
