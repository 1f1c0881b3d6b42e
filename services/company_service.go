package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"leadforge/models"
	"leadforge/utils"
)

type CompanyService struct {
	db        *gorm.DB
	transport utils.MailTransport
	appName   string
	logger    *logrus.Logger
	now       Clock
}

func NewCompanyService(db *gorm.DB, transport utils.MailTransport, appName string, logger *logrus.Logger) *CompanyService {
	return &CompanyService{db: db, transport: transport, appName: appName, logger: logger, now: utcNow}
}

type UpdateCompanyInput struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=200"`
	BillingEmail *string `json:"billing_email" validate:"omitempty,email"`
	LogoURL      *string `json:"logo_url" validate:"omitempty,url"`
	PrimaryColor *string `json:"primary_color" validate:"omitempty,hexcolor"`
	CustomDomain *string `json:"custom_domain" validate:"omitempty,fqdn"`
}

type UpdateSettingsInput struct {
	DefaultFromName    *string `json:"default_from_name" validate:"omitempty,max=200"`
	DefaultFromEmail   *string `json:"default_from_email" validate:"omitempty,email"`
	ReplyToEmail       *string `json:"reply_to_email" validate:"omitempty,email"`
	EmailSignatureHTML *string `json:"email_signature_html" validate:"omitempty,max=10000"`
	NotifyOnReply      *bool   `json:"notify_on_reply"`
	NotifyDailySummary *bool   `json:"notify_daily_summary"`
	AutoEnrich         *bool   `json:"auto_enrich"`
	Timezone           *string `json:"timezone" validate:"omitempty,timezone"`
	InboxHost          *string `json:"inbox_host" validate:"omitempty,hostname"`
	InboxPort          *int    `json:"inbox_port" validate:"omitempty,gte=1,lte=65535"`
	InboxUsername      *string `json:"inbox_username" validate:"omitempty,max=255"`
	InboxPassword      *string `json:"inbox_password" validate:"omitempty,max=255"`
	InboxMailbox       *string `json:"inbox_mailbox" validate:"omitempty,max=255"`
	InboxUseTLS        *bool   `json:"inbox_use_tls"`
}

type InviteUserInput struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"required,max=200"`
	Role     string `json:"role" validate:"required,oneof=admin manager sales viewer"`
}

func (s *CompanyService) Get(ctx context.Context, companyID uint) (*models.Company, error) {
	var company models.Company
	err := s.db.WithContext(ctx).Preload("Settings").Where("id = ?", companyID).First(&company).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFound("company", companyID)
	}
	if err != nil {
		return nil, err
	}
	return &company, nil
}

func (s *CompanyService) Update(ctx context.Context, companyID uint, in UpdateCompanyInput) (*models.Company, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if in.Name != nil {
		updates["name"] = strings.TrimSpace(*in.Name)
	}
	if in.BillingEmail != nil {
		updates["billing_email"] = utils.NormalizeEmail(*in.BillingEmail)
	}
	if in.LogoURL != nil {
		updates["logo_url"] = *in.LogoURL
	}
	if in.PrimaryColor != nil {
		updates["primary_color"] = *in.PrimaryColor
	}
	if in.CustomDomain != nil {
		updates["custom_domain"] = strings.ToLower(*in.CustomDomain)
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&models.Company{}).Where("id = ?", companyID).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, companyID)
}

func (s *CompanyService) Settings(ctx context.Context, companyID uint) (*models.CompanySettings, error) {
	var settings models.CompanySettings
	err := s.db.WithContext(ctx).Where("company_id = ?", companyID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFound("company settings", companyID)
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpdateSettings stores sending defaults and inbox credentials. The inbox
// password is kept encrypted.
func (s *CompanyService) UpdateSettings(ctx context.Context, companyID uint, in UpdateSettingsInput) (*models.CompanySettings, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}
	settings, err := s.Settings(ctx, companyID)
	if err != nil {
		return nil, err
	}

	str := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	flag := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	str(&settings.DefaultFromName, in.DefaultFromName)
	str(&settings.DefaultFromEmail, in.DefaultFromEmail)
	str(&settings.ReplyToEmail, in.ReplyToEmail)
	str(&settings.EmailSignatureHTML, in.EmailSignatureHTML)
	str(&settings.Timezone, in.Timezone)
	str(&settings.InboxHost, in.InboxHost)
	str(&settings.InboxUsername, in.InboxUsername)
	str(&settings.InboxMailbox, in.InboxMailbox)
	flag(&settings.NotifyOnReply, in.NotifyOnReply)
	flag(&settings.NotifyDailySummary, in.NotifyDailySummary)
	flag(&settings.AutoEnrich, in.AutoEnrich)
	flag(&settings.InboxUseTLS, in.InboxUseTLS)
	if in.InboxPort != nil {
		settings.InboxPort = *in.InboxPort
	}
	if in.InboxPassword != nil {
		if *in.InboxPassword == "" {
			settings.InboxPasswordEnc = ""
		} else {
			enc, err := utils.Encrypt(*in.InboxPassword)
			if err != nil {
				return nil, err
			}
			settings.InboxPasswordEnc = enc
		}
	}
	if err := s.db.WithContext(ctx).Save(settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *CompanyService) ListUsers(ctx context.Context, companyID uint) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Where("company_id = ?", companyID).Order("id ASC").Find(&users).Error
	return users, err
}

// InviteUser adds a member with a temporary password and emails it to
// them. The plan's users_limit counts active members.
func (s *CompanyService) InviteUser(ctx context.Context, inviter models.Identity, in InviteUserInput) (*models.User, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}
	role, err := models.ParseRole(in.Role)
	if err != nil {
		return nil, models.NewValidation(err.Error(), map[string]string{"role": "unknown role"})
	}
	tempPassword := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	hash, err := bcrypt.GenerateFromPassword([]byte(tempPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	var (
		user    models.User
		company models.Company
		invName string
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", inviter.CompanyID).First(&company).Error; err != nil {
			return err
		}
		var active int64
		if err := tx.Model(&models.User{}).Where("company_id = ? AND is_active = ?", company.ID, true).Count(&active).Error; err != nil {
			return err
		}
		if company.UsersLimit > 0 && int(active) >= company.UsersLimit {
			return models.NewQuotaExceeded("users", company.UsersLimit, int(active)+1)
		}

		email := utils.NormalizeEmail(in.Email)
		var existing int64
		if err := tx.Model(&models.User{}).Where("company_id = ? AND email = ?", company.ID, email).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return models.NewConflict("a user with this email already exists")
		}

		var inv models.User
		if err := tx.Select("full_name", "email").Where("id = ?", inviter.UserID).First(&inv).Error; err == nil {
			invName = firstNonEmpty(inv.FullName, inv.Email)
		}

		user = models.User{
			CompanyID:    company.ID,
			Email:        email,
			FullName:     strings.TrimSpace(in.FullName),
			PasswordHash: string(hash),
			Role:         role,
			IsActive:     true,
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		return nil, err
	}

	s.sendInvite(ctx, &company, &user, invName, tempPassword)
	utils.LogEvent("user_invited", map[string]interface{}{"company_id": company.ID, "user_id": user.ID, "role": role})
	return &user, nil
}

func (s *CompanyService) sendInvite(ctx context.Context, company *models.Company, user *models.User, inviter, password string) {
	subject, body, err := utils.RenderNotification("invite", map[string]interface{}{
		"AppName":           s.appName,
		"CompanyName":       company.Name,
		"InviterName":       inviter,
		"Role":              string(user.Role),
		"TemporaryPassword": password,
	})
	if err != nil {
		utils.LogError("invite_render_failed", err, map[string]interface{}{"user_id": user.ID})
		return
	}
	_, err = s.transport.Send(ctx, utils.OutboundEmail{
		MessageID: uuid.NewString(),
		FromName:  s.appName,
		FromEmail: company.BillingEmail,
		To:        user.Email,
		ToName:    user.FullName,
		Subject:   subject,
		HTMLBody:  body,
	})
	if err != nil {
		utils.LogError("invite_send_failed", err, map[string]interface{}{"user_id": user.ID})
	}
}

// activeAdmins counts admins other than exclude.
func activeAdmins(tx *gorm.DB, companyID, exclude uint) (int64, error) {
	var n int64
	err := tx.Model(&models.User{}).
		Where("company_id = ? AND role = ? AND is_active = ? AND id <> ?", companyID, models.RoleAdmin, true, exclude).
		Count(&n).Error
	return n, err
}

// UpdateUserRole changes a member's role. A company always keeps at least
// one active admin.
func (s *CompanyService) UpdateUserRole(ctx context.Context, companyID, userID uint, roleName string) (*models.User, error) {
	role, err := models.ParseRole(roleName)
	if err != nil {
		return nil, models.NewValidation(err.Error(), map[string]string{"role": "unknown role"})
	}
	var user models.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := findOwned(tx.Clauses(clause.Locking{Strength: "UPDATE"}), &user, companyID, userID, "user"); err != nil {
			return err
		}
		if user.Role == role {
			return nil
		}
		if user.Role == models.RoleAdmin {
			others, err := activeAdmins(tx, companyID, user.ID)
			if err != nil {
				return err
			}
			if others == 0 {
				return models.NewConflict("cannot demote the last admin")
			}
		}
		user.Role = role
		user.TokenVersion++
		return tx.Model(&user).Updates(map[string]interface{}{"role": role, "token_version": user.TokenVersion}).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// DeactivateUser disables a member and revokes their tokens.
func (s *CompanyService) DeactivateUser(ctx context.Context, caller models.Identity, userID uint) error {
	if caller.UserID == userID {
		return models.NewConflict("cannot deactivate yourself")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := findOwned(tx.Clauses(clause.Locking{Strength: "UPDATE"}), &user, caller.CompanyID, userID, "user"); err != nil {
			return err
		}
		if user.Role == models.RoleAdmin {
			others, err := activeAdmins(tx, caller.CompanyID, user.ID)
			if err != nil {
				return err
			}
			if others == 0 {
				return models.NewConflict("cannot deactivate the last admin")
			}
		}
		return tx.Model(&user).Updates(map[string]interface{}{
			"is_active":     false,
			"token_version": user.TokenVersion + 1,
		}).Error
	})
}
