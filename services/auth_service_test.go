package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"leadforge/models"
	"leadforge/utils"
)

type AuthServiceTestSuite struct {
	dbSuite
	auth *AuthService
}

func TestAuthServiceSuite(t *testing.T) {
	suite.Run(t, new(AuthServiceTestSuite))
}

func (s *AuthServiceTestSuite) SetupTest() {
	s.dbSuite.SetupTest()
	s.auth = NewAuthService(s.db, utils.NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour), s.logger)
	s.auth.now = s.now
}

func (s *AuthServiceTestSuite) register(company, email string) *AuthResponse {
	res, err := s.auth.Register(s.ctx, RegisterInput{
		CompanyName: company,
		FullName:    "Dana Reyes",
		Email:       email,
		Password:    "correct horse",
	})
	s.Require().NoError(err)
	return res
}

func (s *AuthServiceTestSuite) TestRegister() {
	res := s.register("Initech", "Dana@Initech.test")
	s.NotEmpty(res.Tokens.AccessToken)
	s.NotEmpty(res.Tokens.RefreshToken)
	s.Equal("dana@initech.test", res.User.Email)
	s.Equal(models.RoleAdmin, res.User.Role)

	var company models.Company
	s.Require().NoError(s.db.Preload("Settings").First(&company, res.User.CompanyID).Error)
	s.Equal("initech", company.Slug)
	s.Equal(models.PlanStarter, company.Plan)
	s.Equal(models.SubscriptionTrialing, company.SubscriptionStatus)
	s.False(company.CanScrape)
	s.Require().NotNil(company.TrialEndsAt)
	s.WithinDuration(s.now().Add(14*24*time.Hour), *company.TrialEndsAt, time.Second)
	s.Require().NotNil(company.Settings)
	s.Equal("dana@initech.test", company.Settings.DefaultFromEmail)

	// same name gets a distinct slug
	again := s.register("Initech", "other@initech.test")
	var second models.Company
	s.Require().NoError(s.db.First(&second, again.User.CompanyID).Error)
	s.NotEqual("initech", second.Slug)

	_, err := s.auth.Register(s.ctx, RegisterInput{CompanyName: "X", FullName: "Y", Email: "y@x.test", Password: "short"})
	s.True(errors.Is(err, models.ErrValidation))
}

func (s *AuthServiceTestSuite) TestLogin() {
	s.register("Initech", "dana@initech.test")

	res, err := s.auth.Login(s.ctx, LoginInput{Email: "DANA@initech.test", Password: "correct horse"})
	s.Require().NoError(err)
	s.NotNil(res.User.LastLoginAt)

	_, err = s.auth.Login(s.ctx, LoginInput{Email: "dana@initech.test", Password: "wrong horse"})
	s.True(errors.Is(err, models.ErrUnauthorized))
	_, err = s.auth.Login(s.ctx, LoginInput{Email: "nobody@initech.test", Password: "correct horse"})
	s.True(errors.Is(err, models.ErrUnauthorized))

	s.Require().NoError(s.db.Model(&models.User{}).Where("id = ?", res.User.ID).Update("is_active", false).Error)
	_, err = s.auth.Login(s.ctx, LoginInput{Email: "dana@initech.test", Password: "correct horse"})
	s.True(errors.Is(err, models.ErrForbidden))
}

func (s *AuthServiceTestSuite) TestLoginNeedsSlugForSharedEmail() {
	first := s.register("Initech", "dana@consulting.test")
	s.register("Globex", "dana@consulting.test")

	_, err := s.auth.Login(s.ctx, LoginInput{Email: "dana@consulting.test", Password: "correct horse"})
	s.True(errors.Is(err, models.ErrValidation))

	res, err := s.auth.Login(s.ctx, LoginInput{Email: "dana@consulting.test", Password: "correct horse", CompanySlug: "initech"})
	s.Require().NoError(err)
	s.Equal(first.User.CompanyID, res.User.CompanyID)
}

func (s *AuthServiceTestSuite) TestAuthenticateAndRefresh() {
	res := s.register("Initech", "dana@initech.test")

	id, err := s.auth.Authenticate(s.ctx, res.Tokens.AccessToken)
	s.Require().NoError(err)
	s.Equal(res.User.ID, id.UserID)
	s.Equal(res.User.CompanyID, id.CompanyID)
	s.Equal(models.RoleAdmin, id.Role)

	_, err = s.auth.Authenticate(s.ctx, res.Tokens.RefreshToken)
	s.True(errors.Is(err, models.ErrUnauthorized))
	_, err = s.auth.Refresh(s.ctx, res.Tokens.AccessToken)
	s.True(errors.Is(err, models.ErrUnauthorized))

	refreshed, err := s.auth.Refresh(s.ctx, res.Tokens.RefreshToken)
	s.Require().NoError(err)
	s.NotEmpty(refreshed.Tokens.AccessToken)
}

func (s *AuthServiceTestSuite) TestLogoutRevokesTokens() {
	res := s.register("Initech", "dana@initech.test")
	id, err := s.auth.Authenticate(s.ctx, res.Tokens.AccessToken)
	s.Require().NoError(err)

	s.Require().NoError(s.auth.Logout(s.ctx, *id))

	_, err = s.auth.Authenticate(s.ctx, res.Tokens.AccessToken)
	s.True(errors.Is(err, models.ErrUnauthorized))
	_, err = s.auth.Refresh(s.ctx, res.Tokens.RefreshToken)
	s.True(errors.Is(err, models.ErrUnauthorized))
}

func (s *AuthServiceTestSuite) TestChangePassword() {
	res := s.register("Initech", "dana@initech.test")
	id := models.Identity{UserID: res.User.ID, CompanyID: res.User.CompanyID, Role: res.User.Role}

	_, err := s.auth.ChangePassword(s.ctx, id, ChangePasswordInput{CurrentPassword: "nope", NewPassword: "battery staple"})
	s.True(errors.Is(err, models.ErrValidation))

	changed, err := s.auth.ChangePassword(s.ctx, id, ChangePasswordInput{CurrentPassword: "correct horse", NewPassword: "battery staple"})
	s.Require().NoError(err)

	_, err = s.auth.Authenticate(s.ctx, res.Tokens.AccessToken)
	s.True(errors.Is(err, models.ErrUnauthorized))
	_, err = s.auth.Authenticate(s.ctx, changed.Tokens.AccessToken)
	s.NoError(err)

	_, err = s.auth.Login(s.ctx, LoginInput{Email: "dana@initech.test", Password: "battery staple"})
	s.NoError(err)
}

func (s *AuthServiceTestSuite) TestMe() {
	res := s.register("Initech", "dana@initech.test")

	me, err := s.auth.Me(s.ctx, models.Identity{UserID: res.User.ID, CompanyID: res.User.CompanyID})
	s.Require().NoError(err)
	s.Require().NotNil(me.Company)
	s.Equal("Initech", me.Company.Name)

	_, err = s.auth.Me(s.ctx, models.Identity{UserID: res.User.ID, CompanyID: s.company.ID})
	s.True(errors.Is(err, models.ErrNotFound))
}

func (s *AuthServiceTestSuite) TestGoogleLogin() {
	profile := GoogleProfile{ID: "g-123", Email: "sam@gmail.com", Name: "Sam", Verified: true}

	created, err := s.auth.LoginWithGoogle(s.ctx, profile)
	s.Require().NoError(err)
	s.Equal("sam@gmail.com", created.User.Email)
	s.Equal(models.RoleAdmin, created.User.Role)

	again, err := s.auth.LoginWithGoogle(s.ctx, profile)
	s.Require().NoError(err)
	s.Equal(created.User.ID, again.User.ID)

	// an existing password account is linked by verified email
	linked, err := s.auth.LoginWithGoogle(s.ctx, GoogleProfile{ID: "g-456", Email: "owner@acme.test", Verified: true})
	s.Require().NoError(err)
	s.Equal(s.user.ID, linked.User.ID)

	_, err = s.auth.LoginWithGoogle(s.ctx, GoogleProfile{ID: "g-789", Email: "owner@acme.test", Verified: false})
	s.True(errors.Is(err, models.ErrUnauthorized))

	_, err = s.auth.LoginWithGoogle(s.ctx, GoogleProfile{Email: "x@gmail.com"})
	s.True(errors.Is(err, models.ErrValidation))
}
