package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"kasiran/admin/internal/apiclient"
	"kasiran/admin/internal/domain"
	"kasiran/admin/internal/xid"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

// Authenticator checks an email/password pair and returns the session the
// upstream API should be called with.
type Authenticator interface {
	Authenticate(ctx context.Context, email string, password string) (domain.Session, error)
}

type RemoteAuthenticator struct {
	client *apiclient.Client
}

func NewRemoteAuthenticator(client *apiclient.Client) *RemoteAuthenticator {
	return &RemoteAuthenticator{client: client}
}

func (a *RemoteAuthenticator) Authenticate(ctx context.Context, email string, password string) (domain.Session, error) {
	result, err := a.client.Login(ctx, email, password)
	if err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && isCredentialStatus(apiErr.Status) {
			return domain.Session{}, ErrInvalidCredentials
		}
		return domain.Session{}, err
	}

	session := domain.Session{
		Token:     result.Token,
		UserEmail: strings.TrimSpace(result.Email),
		CompanyID: string(result.CompanyID),
		OutletID:  string(result.OutletID),
	}
	if session.UserEmail == "" {
		session.UserEmail = email
	}
	if !session.Complete() {
		return domain.Session{}, errors.New("login response is missing the token or company")
	}
	return session, nil
}

func isCredentialStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusUnprocessableEntity
}

// LocalAuthenticator serves development setups without a reachable upstream.
// Accounts come from configuration with bcrypt hashes only.
type LocalAuthenticator struct {
	accounts map[string]localAccount
}

type localAccount struct {
	passwordHash string
	companyID    string
	outletID     string
}

// ParseDevAccounts reads "email:bcrypt-hash:company[:outlet]" entries
// separated by commas.
func ParseDevAccounts(raw string) (*LocalAuthenticator, error) {
	accounts := make(map[string]localAccount)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 3 || len(parts) > 4 {
			return nil, fmt.Errorf("dev account %q must be email:hash:company[:outlet]", entry)
		}
		email := normalizeEmail(parts[0])
		if email == "" {
			return nil, fmt.Errorf("dev account %q has no email", entry)
		}
		if !isPasswordHash(parts[1]) {
			return nil, fmt.Errorf("dev account %s must use a bcrypt hash", email)
		}
		account := localAccount{passwordHash: parts[1], companyID: strings.TrimSpace(parts[2])}
		if account.companyID == "" {
			return nil, fmt.Errorf("dev account %s has no company", email)
		}
		if len(parts) == 4 {
			account.outletID = strings.TrimSpace(parts[3])
		}
		accounts[email] = account
	}
	if len(accounts) == 0 {
		return nil, errors.New("no dev accounts configured")
	}
	return &LocalAuthenticator{accounts: accounts}, nil
}

func (a *LocalAuthenticator) Authenticate(_ context.Context, email string, password string) (domain.Session, error) {
	email = normalizeEmail(email)
	account, ok := a.accounts[email]
	if !ok || !verifyPassword(account.passwordHash, password) {
		return domain.Session{}, ErrInvalidCredentials
	}
	return domain.Session{
		Token:     xid.New("dev"),
		UserEmail: email,
		CompanyID: account.companyID,
		OutletID:  account.outletID,
	}, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
