package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"leadforge/models"
	"leadforge/utils"
)

const trialPeriod = 14 * 24 * time.Hour

type AuthService struct {
	db     *gorm.DB
	tokens *utils.TokenManager
	logger *logrus.Logger
	now    Clock
}

func NewAuthService(db *gorm.DB, tokens *utils.TokenManager, logger *logrus.Logger) *AuthService {
	return &AuthService{db: db, tokens: tokens, logger: logger, now: utcNow}
}

type RegisterInput struct {
	CompanyName string `json:"company_name" validate:"required,max=200"`
	FullName    string `json:"full_name" validate:"required,max=200"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	Plan        string `json:"plan" validate:"omitempty,oneof=starter growth scale enterprise"`
}

type LoginInput struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	CompanySlug string `json:"company_slug"`
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

type AuthResponse struct {
	Tokens *utils.TokenPair `json:"tokens"`
	User   *models.User     `json:"user"`
}

// GoogleProfile is the userinfo returned by Google after the OAuth exchange.
type GoogleProfile struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Verified bool   `json:"verified_email"`
}

// Register creates a company on a trial of the chosen plan together with
// its first admin user and default settings.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResponse, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	var user models.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		company, err := s.createCompany(tx, in.CompanyName, utils.NormalizeEmail(in.Email), models.PlanType(in.Plan))
		if err != nil {
			return err
		}
		user = models.User{
			CompanyID:    company.ID,
			Email:        utils.NormalizeEmail(in.Email),
			FullName:     strings.TrimSpace(in.FullName),
			PasswordHash: string(hash),
			Role:         models.RoleAdmin,
			IsActive:     true,
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		user.Company = company
		return nil
	})
	if err != nil {
		return nil, err
	}

	utils.LogEvent("company_registered", map[string]interface{}{"company_id": user.CompanyID, "user_id": user.ID})
	return s.issue(&user)
}

func (s *AuthService) createCompany(tx *gorm.DB, name, billingEmail string, planType models.PlanType) (*models.Company, error) {
	if planType == "" {
		planType = models.PlanStarter
	}
	var plan models.Plan
	if err := tx.Where("name = ?", planType).Limit(1).Find(&plan).Error; err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		plan = models.DefaultPlan(planType)
	}

	slug, err := uniqueSlug(tx, name)
	if err != nil {
		return nil, err
	}
	trialEnds := s.now().Add(trialPeriod)
	company := models.Company{
		Name:               strings.TrimSpace(name),
		Slug:               slug,
		SubscriptionStatus: models.SubscriptionTrialing,
		BillingEmail:       billingEmail,
		TrialEndsAt:        &trialEnds,
	}
	company.ApplyPlan(plan)
	if err := tx.Create(&company).Error; err != nil {
		return nil, err
	}
	settings := models.CompanySettings{
		CompanyID:        company.ID,
		DefaultFromName:  company.Name,
		DefaultFromEmail: billingEmail,
		ReplyToEmail:     billingEmail,
		NotifyOnReply:    true,
		Timezone:         "UTC",
		InboxMailbox:     "INBOX",
		InboxPort:        993,
		InboxUseTLS:      true,
	}
	if err := tx.Create(&settings).Error; err != nil {
		return nil, err
	}
	company.Settings = &settings
	return &company, nil
}

func uniqueSlug(tx *gorm.DB, name string) (string, error) {
	base := utils.Slugify(name)
	if base == "" {
		base = "company"
	}
	slug := base
	for i := 0; i < 5; i++ {
		var n int64
		if err := tx.Model(&models.Company{}).Unscoped().Where("slug = ?", slug).Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return slug, nil
		}
		slug = base + "-" + uuid.NewString()[:6]
	}
	return "", models.NewConflict("could not allocate a company slug")
}

// Login checks credentials. An address registered with several companies
// needs company_slug to pick one.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResponse, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)

	q := db.Model(&models.User{}).Select("users.*").Where("users.email = ?", utils.NormalizeEmail(in.Email))
	if in.CompanySlug != "" {
		q = q.Joins("JOIN companies ON companies.id = users.company_id").Where("companies.slug = ?", in.CompanySlug)
	}
	var users []models.User
	if err := q.Limit(2).Find(&users).Error; err != nil {
		return nil, err
	}
	invalid := models.NewUnauthorized("invalid email or password")
	switch {
	case len(users) == 0:
		return nil, invalid
	case len(users) > 1:
		return nil, models.NewValidation("email belongs to several companies", map[string]string{"company_slug": "required"})
	}
	user := users[0]
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return nil, invalid
	}
	if !user.IsActive {
		return nil, models.NewForbidden("account is not active")
	}

	now := s.now()
	if err := db.Model(&user).Update("last_login_at", now).Error; err != nil {
		return nil, err
	}
	user.LastLoginAt = &now
	return s.issue(&user)
}

func (s *AuthService) issue(user *models.User) (*AuthResponse, error) {
	tokens, err := s.tokens.GenerateTokens(user)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Tokens: tokens, User: user}, nil
}

// Refresh exchanges a refresh token for a new pair. Tokens issued before
// the last logout or password change are rejected.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	claims, err := s.tokens.ParseToken(refreshToken, utils.TokenRefresh)
	if err != nil {
		return nil, models.NewUnauthorized("invalid refresh token")
	}
	user, err := s.activeUser(ctx, claims)
	if err != nil {
		return nil, err
	}
	return s.issue(user)
}

// Authenticate resolves an access token to the caller's identity.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*models.Identity, error) {
	claims, err := s.tokens.ParseToken(accessToken, utils.TokenAccess)
	if err != nil {
		return nil, models.NewUnauthorized("invalid or expired token")
	}
	user, err := s.activeUser(ctx, claims)
	if err != nil {
		return nil, err
	}
	id := models.Identity{UserID: user.ID, CompanyID: user.CompanyID, Role: user.Role}
	return &id, nil
}

func (s *AuthService) activeUser(ctx context.Context, claims *utils.Claims) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ? AND company_id = ?", claims.UserID, claims.CompanyID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewUnauthorized("user no longer exists")
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, models.NewUnauthorized("account is not active")
	}
	if user.TokenVersion != claims.TokenVersion {
		return nil, models.NewUnauthorized("token has been revoked")
	}
	return &user, nil
}

// Logout revokes every token issued to the user so far.
func (s *AuthService) Logout(ctx context.Context, id models.Identity) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND company_id = ?", id.UserID, id.CompanyID).
		UpdateColumn("token_version", gorm.Expr("token_version + 1")).Error
}

func (s *AuthService) ChangePassword(ctx context.Context, id models.Identity, in ChangePasswordInput) (*AuthResponse, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}
	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := findOwned(tx, &user, id.CompanyID, id.UserID, "user"); err != nil {
			return err
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.CurrentPassword)); err != nil {
			return models.NewValidation("current password is incorrect", map[string]string{"current_password": "incorrect"})
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		user.PasswordHash = string(hash)
		user.TokenVersion++
		return tx.Model(&user).Updates(map[string]interface{}{
			"password_hash": user.PasswordHash,
			"token_version": user.TokenVersion,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.issue(&user)
}

// Me returns the caller with their company.
func (s *AuthService) Me(ctx context.Context, id models.Identity) (*models.User, error) {
	var user models.User
	if err := findOwned(s.db.WithContext(ctx).Preload("Company"), &user, id.CompanyID, id.UserID, "user"); err != nil {
		return nil, err
	}
	return &user, nil
}

// LoginWithGoogle signs in the user linked to the Google account, links an
// existing user by verified email, or registers a new company.
func (s *AuthService) LoginWithGoogle(ctx context.Context, profile GoogleProfile) (*AuthResponse, error) {
	if profile.ID == "" || profile.Email == "" {
		return nil, models.NewValidation("google profile is incomplete", map[string]string{"email": "required"})
	}
	email := utils.NormalizeEmail(profile.Email)

	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var linked []models.User
		if err := tx.Where("google_id = ?", profile.ID).Limit(2).Find(&linked).Error; err != nil {
			return err
		}
		if len(linked) == 1 {
			user = linked[0]
			return nil
		}

		var byEmail []models.User
		if err := tx.Where("email = ?", email).Limit(2).Find(&byEmail).Error; err != nil {
			return err
		}
		switch {
		case len(byEmail) > 1:
			return models.NewConflict("email belongs to several companies, sign in with a password")
		case len(byEmail) == 1:
			if !profile.Verified {
				return models.NewUnauthorized("google email is not verified")
			}
			user = byEmail[0]
			googleID := profile.ID
			user.GoogleID = &googleID
			return tx.Model(&user).Update("google_id", googleID).Error
		}

		name := profile.Name
		if name == "" {
			name = strings.Split(email, "@")[0]
		}
		company, err := s.createCompany(tx, name+"'s company", email, models.PlanStarter)
		if err != nil {
			return err
		}
		// password login stays disabled until the user sets one
		hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		googleID := profile.ID
		user = models.User{
			CompanyID:    company.ID,
			Email:        email,
			FullName:     name,
			PasswordHash: string(hash),
			Role:         models.RoleAdmin,
			IsActive:     true,
			GoogleID:     &googleID,
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, models.NewForbidden("account is not active")
	}
	now := s.now()
	s.db.WithContext(ctx).Model(&user).Update("last_login_at", now)
	user.LastLoginAt = &now
	return s.issue(&user)
}
