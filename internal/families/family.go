package families

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"family-shopping/backend/internal/apperr"
	"family-shopping/backend/internal/codec"
	"family-shopping/backend/internal/database"
	"family-shopping/backend/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	inviteCodeLength   = 6
	inviteCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts    = 10
)

var (
	inviteCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)
	errCodeTaken      = errors.New("invite code taken")
)

// GenerateInviteCode returns a random code of six upper-case letters and digits.
func GenerateInviteCode() (string, error) {
	size := big.NewInt(int64(len(inviteCodeAlphabet)))
	var b strings.Builder
	for i := 0; i < inviteCodeLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b.WriteByte(inviteCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeInviteCode trims and upper-cases a code typed by a user.
func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreateFamily creates a family owned by the user and makes the user its first member.
func (s *Service) CreateFamily(ctx context.Context, userID, name string) (models.Family, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Family{}, apperr.Validation("name is required")
	}
	if len(name) > 80 {
		return models.Family{}, apperr.Validation("name must be at most 80 characters")
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return models.Family{}, apperr.New(apperr.KindUnknown, "failed to generate invite code", err)
		}
		family, err := s.createFamily(ctx, userID, name, code)
		if errors.Is(err, errCodeTaken) {
			continue
		}
		if err != nil {
			return models.Family{}, apperr.Wrap(err, "failed to create family")
		}
		s.log.WithFields(logrus.Fields{"family_id": family.ID, "user_id": userID}).Info("family created")
		return family, nil
	}
	return models.Family{}, apperr.New(apperr.KindUnknown, "failed to generate invite code",
		fmt.Errorf("no free code after %d attempts", maxCodeAttempts))
}

// createFamily claims code and stores the family in one transaction.
func (s *Service) createFamily(ctx context.Context, userID, name, code string) (models.Family, error) {
	var family models.Family
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		family = models.Family{
			Name:       name,
			MemberIDs:  []string{userID},
			InviteCode: code,
			OwnerID:    userID,
		}
		doc, err := tx.Get(database.Users, userID)
		if errors.Is(err, database.ErrNotFound) {
			return apperr.Unauthenticated("user not found")
		}
		if err != nil {
			return err
		}
		if u := codec.DecodeUser(doc.ID, doc.Fields); u.FamilyID != nil {
			return apperr.Validation("user already belongs to a family")
		}
		_, err = tx.Get(database.InviteCodes, code)
		if err == nil {
			return errCodeTaken
		}
		if !errors.Is(err, database.ErrNotFound) {
			return err
		}

		id, err := tx.Add(database.Families, codec.EncodeFamily(family))
		if err != nil {
			return err
		}
		family.ID = id
		if err := tx.Set(database.InviteCodes, code, map[string]any{codec.FieldFamilyID: id}); err != nil {
			return err
		}
		return tx.Update(database.Users, userID, map[string]any{codec.FieldFamilyID: id})
	})
	return family, err
}

// JoinFamily adds the user to the family with the given invite code. Joining the family the user
// already belongs to succeeds without changes.
func (s *Service) JoinFamily(ctx context.Context, userID, inviteCode string) (models.Family, error) {
	code := NormalizeInviteCode(inviteCode)
	if !inviteCodePattern.MatchString(code) {
		return models.Family{}, apperr.Validation("invite code must be 6 letters or digits")
	}
	claim, err := s.store.Get(ctx, database.InviteCodes, code)
	if errors.Is(err, database.ErrNotFound) {
		return models.Family{}, apperr.NotFound("family not found")
	}
	if err != nil {
		return models.Family{}, apperr.Wrap(err, "failed to join family")
	}
	familyID, _ := claim.Fields[codec.FieldFamilyID].(string)

	var family models.Family
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		userDoc, err := tx.Get(database.Users, userID)
		if errors.Is(err, database.ErrNotFound) {
			return apperr.Unauthenticated("user not found")
		}
		if err != nil {
			return err
		}
		famDoc, err := tx.Get(database.Families, familyID)
		if errors.Is(err, database.ErrNotFound) {
			return apperr.NotFound("family not found")
		}
		if err != nil {
			return err
		}
		family = codec.DecodeFamily(famDoc.ID, famDoc.Fields)

		u := codec.DecodeUser(userDoc.ID, userDoc.Fields)
		if u.FamilyID != nil {
			if *u.FamilyID == family.ID {
				return nil
			}
			return apperr.Validation("user already belongs to another family")
		}

		if err := tx.ArrayUnion(database.Families, family.ID, codec.FieldMemberIDs, userID); err != nil {
			return err
		}
		if !family.HasMember(userID) {
			family.MemberIDs = append(family.MemberIDs, userID)
		}
		return tx.Update(database.Users, userID, map[string]any{codec.FieldFamilyID: family.ID})
	})
	if err != nil {
		return models.Family{}, apperr.Wrap(err, "failed to join family")
	}
	return family, nil
}

func (s *Service) GetFamily(ctx context.Context, familyID string) (models.Family, error) {
	doc, err := s.store.Get(ctx, database.Families, familyID)
	if errors.Is(err, database.ErrNotFound) {
		return models.Family{}, apperr.NotFound("family not found")
	}
	if err != nil {
		return models.Family{}, apperr.Wrap(err, "failed to load family")
	}
	return codec.DecodeFamily(doc.ID, doc.Fields), nil
}
