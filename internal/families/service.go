// Package families manages user accounts and the family each account shops with.
package families

import (
	"context"
	"errors"
	"strings"

	"family-shopping/backend/internal/apperr"
	"family-shopping/backend/internal/auth"
	"family-shopping/backend/internal/codec"
	"family-shopping/backend/internal/database"
	"family-shopping/backend/internal/logger"
	"family-shopping/backend/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var validate = validator.New()

var errInvalidCredentials = apperr.Unauthenticated("invalid email or password")

type Service struct {
	store        database.Store
	google       auth.GoogleVerifier
	log          *logrus.Entry
	newID        func() string
	newCode      func() (string, error)
	hashPassword func(string) (string, error)
}

func NewService(store database.Store, google auth.GoogleVerifier, log logrus.FieldLogger) *Service {
	return &Service{
		store:        store,
		google:       google,
		log:          logger.Component(log, "families"),
		newID:        uuid.NewString,
		newCode:      GenerateInviteCode,
		hashPassword: auth.HashPassword,
	}
}

type SignUpInput struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6,max=72"`
	Name     string `validate:"required,max=80"`
}

// SignUp registers an account with email and password. The account has no family yet.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (models.User, error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		return models.User{}, validationError(err)
	}

	_, err := s.userByEmail(ctx, in.Email)
	if err == nil {
		return models.User{}, apperr.Validation("email already registered")
	}
	if !errors.Is(err, database.ErrNotFound) {
		return models.User{}, apperr.Wrap(err, "failed to sign up")
	}

	hashed, err := s.hashPassword(in.Password)
	if err != nil {
		return models.User{}, apperr.New(apperr.KindUnknown, "failed to sign up", err)
	}
	u := models.User{ID: s.newID(), Email: in.Email, Name: in.Name, PasswordHash: hashed}
	if err := s.store.Set(ctx, database.Users, u.ID, codec.EncodeUser(u)); err != nil {
		return models.User{}, apperr.Wrap(err, "failed to sign up")
	}
	s.log.WithField("user_id", u.ID).Info("user signed up")
	return u, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (models.User, error) {
	u, err := s.userByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, database.ErrNotFound) {
		return models.User{}, errInvalidCredentials
	}
	if err != nil {
		return models.User{}, apperr.Wrap(err, "failed to sign in")
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return models.User{}, errInvalidCredentials
	}
	return u, nil
}

// SignInWithGoogle signs in with a Google ID token, creating the account on first use and
// linking it to an existing account with the same email otherwise.
func (s *Service) SignInWithGoogle(ctx context.Context, idToken string) (models.User, error) {
	if s.google == nil {
		return models.User{}, apperr.Unauthenticated("google sign-in is not configured")
	}
	identity, err := s.google.Verify(ctx, idToken)
	if err != nil {
		s.log.WithError(err).Debug("google token rejected")
		return models.User{}, apperr.Unauthenticated("invalid google token")
	}
	if !identity.EmailVerified {
		s.log.WithField("subject", identity.Subject).Warn("google email not verified")
		return models.User{}, apperr.Unauthenticated("google account email is not verified")
	}
	email := normalizeEmail(identity.Email)

	u, err := s.userByEmail(ctx, email)
	switch {
	case errors.Is(err, database.ErrNotFound):
		u = models.User{ID: s.newID(), Email: email, Name: identity.Name, GoogleID: identity.Subject}
		if err := s.store.Set(ctx, database.Users, u.ID, codec.EncodeUser(u)); err != nil {
			return models.User{}, apperr.Wrap(err, "failed to sign in")
		}
		s.log.WithField("user_id", u.ID).Info("user signed up with google")
		return u, nil
	case err != nil:
		return models.User{}, apperr.Wrap(err, "failed to sign in")
	}

	if u.GoogleID != identity.Subject {
		u.GoogleID = identity.Subject
		if err := s.store.Update(ctx, database.Users, u.ID, map[string]any{codec.FieldGoogleID: u.GoogleID}); err != nil {
			return models.User{}, apperr.Wrap(err, "failed to sign in")
		}
	}
	return u, nil
}

// GetUser loads the account behind a session. A session for a removed account is no longer
// authenticated.
func (s *Service) GetUser(ctx context.Context, userID string) (models.User, error) {
	doc, err := s.store.Get(ctx, database.Users, userID)
	if errors.Is(err, database.ErrNotFound) {
		return models.User{}, apperr.Unauthenticated("user not found")
	}
	if err != nil {
		return models.User{}, apperr.Wrap(err, "failed to load user")
	}
	return codec.DecodeUser(doc.ID, doc.Fields), nil
}

// FamilyOf returns the id of the user's family.
func (s *Service) FamilyOf(ctx context.Context, userID string) (string, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.FamilyID == nil {
		return "", apperr.Unauthenticated("user does not belong to a family")
	}
	return *u.FamilyID, nil
}

func (s *Service) userByEmail(ctx context.Context, email string) (models.User, error) {
	docs, err := s.store.Find(ctx, database.Query{
		Collection: database.Users,
		Where:      []database.Filter{{Field: codec.FieldEmail, Value: email}},
		Limit:      1,
	})
	if err != nil {
		return models.User{}, err
	}
	if len(docs) == 0 {
		return models.User{}, database.ErrNotFound
	}
	return codec.DecodeUser(docs[0].ID, docs[0].Fields), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.Validation("invalid input")
	}
	fe := fieldErrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return apperr.Validation("%s is required", field)
	case "email":
		return apperr.Validation("%s must be a valid email address", field)
	case "min":
		return apperr.Validation("%s must be at least %s characters", field, fe.Param())
	case "max":
		return apperr.Validation("%s must be at most %s characters", field, fe.Param())
	}
	return apperr.Validation("%s is invalid", field)
}
