package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"leadforge/models"
	"leadforge/utils"
)

// SequenceService edits the ordered steps of DRAFT campaigns. Step orders
// always stay 1..N.
type SequenceService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewSequenceService(db *gorm.DB, logger *logrus.Logger) *SequenceService {
	return &SequenceService{db: db, logger: logger}
}

type StepInput struct {
	Name           string `json:"name" validate:"max=255"`
	Subject        string `json:"subject" validate:"required,max=998"`
	SubjectVariant string `json:"subject_variant" validate:"max=998"`
	Body           string `json:"body" validate:"required"`
	BodyVariant    string `json:"body_variant"`
	DelayHours     *int   `json:"delay_hours" validate:"omitempty,gte=0,lte=8760"`
}

type UpdateStepInput struct {
	Name           *string `json:"name" validate:"omitempty,max=255"`
	Subject        *string `json:"subject" validate:"omitempty,min=1,max=998"`
	SubjectVariant *string `json:"subject_variant" validate:"omitempty,max=998"`
	Body           *string `json:"body" validate:"omitempty,min=1"`
	BodyVariant    *string `json:"body_variant"`
	DelayHours     *int    `json:"delay_hours" validate:"omitempty,gte=0,lte=8760"`
}

type ReorderInput struct {
	StepIDs []uint `json:"step_ids" validate:"required,min=1"`
}

// editableCampaign locks the campaign and checks it is still a draft.
func editableCampaign(tx *gorm.DB, companyID, campaignID uint) (*models.Campaign, error) {
	campaign, err := lockCampaign(tx, companyID, campaignID)
	if err != nil {
		return nil, err
	}
	if _, err := models.NextCampaignStatus(campaign.Status, models.ActionEdit); err != nil {
		return nil, err
	}
	return campaign, nil
}

func orderedSteps(tx *gorm.DB, campaignID uint) ([]models.EmailSequence, error) {
	var steps []models.EmailSequence
	err := tx.Where("campaign_id = ?", campaignID).Order("step_order ASC").Find(&steps).Error
	return steps, err
}

func (s *SequenceService) List(ctx context.Context, companyID, campaignID uint) ([]models.EmailSequence, error) {
	db := s.db.WithContext(ctx)
	var campaign models.Campaign
	if err := findOwned(db, &campaign, companyID, campaignID, "campaign"); err != nil {
		return nil, err
	}
	return orderedSteps(db, campaignID)
}

// AddStep appends a step at position N+1.
func (s *SequenceService) AddStep(ctx context.Context, companyID, campaignID uint, in StepInput) (*models.EmailSequence, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}

	var step models.EmailSequence
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := editableCampaign(tx, companyID, campaignID); err != nil {
			return err
		}

		var maxOrder int
		if err := tx.Model(&models.EmailSequence{}).
			Where("campaign_id = ?", campaignID).
			Select("COALESCE(MAX(step_order), 0)").
			Scan(&maxOrder).Error; err != nil {
			return err
		}

		step = models.EmailSequence{
			CampaignID:     campaignID,
			StepOrder:      maxOrder + 1,
			Name:           in.Name,
			Subject:        in.Subject,
			SubjectVariant: in.SubjectVariant,
			Body:           in.Body,
			BodyVariant:    in.BodyVariant,
			DelayHours:     intOr(in.DelayHours, models.DefaultStepDelayHours),
		}
		if step.Name == "" {
			step.Name = fmt.Sprintf("Step %d", step.StepOrder)
		}
		return tx.Create(&step).Error
	})
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func (s *SequenceService) UpdateStep(ctx context.Context, companyID, campaignID, stepID uint, in UpdateStepInput) (*models.EmailSequence, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}

	var step models.EmailSequence
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := editableCampaign(tx, companyID, campaignID); err != nil {
			return err
		}
		if err := findStep(tx, campaignID, stepID, &step); err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if in.Name != nil {
			updates["name"] = *in.Name
		}
		if in.Subject != nil {
			updates["subject"] = *in.Subject
		}
		if in.SubjectVariant != nil {
			updates["subject_variant"] = *in.SubjectVariant
		}
		if in.Body != nil {
			updates["body"] = *in.Body
		}
		if in.BodyVariant != nil {
			updates["body_variant"] = *in.BodyVariant
		}
		if in.DelayHours != nil {
			updates["delay_hours"] = *in.DelayHours
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&step).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&step, step.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func findStep(tx *gorm.DB, campaignID, stepID uint, step *models.EmailSequence) error {
	err := tx.Where("id = ? AND campaign_id = ?", stepID, campaignID).First(step).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFound("step", stepID)
	}
	return err
}

// RemoveStep deletes a step and closes the gap it leaves.
func (s *SequenceService) RemoveStep(ctx context.Context, companyID, campaignID, stepID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := editableCampaign(tx, companyID, campaignID); err != nil {
			return err
		}
		var step models.EmailSequence
		if err := findStep(tx, campaignID, stepID, &step); err != nil {
			return err
		}
		if err := tx.Delete(&step).Error; err != nil {
			return err
		}

		// shift one row at a time, lowest first, so the unique index holds
		var later []models.EmailSequence
		if err := tx.Where("campaign_id = ? AND step_order > ?", campaignID, step.StepOrder).
			Order("step_order ASC").Find(&later).Error; err != nil {
			return err
		}
		for _, st := range later {
			if err := tx.Model(&models.EmailSequence{}).Where("id = ?", st.ID).
				Update("step_order", st.StepOrder-1).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Reorder assigns positions 1..N in the order of stepIDs, which must list
// every step of the campaign exactly once. Nothing changes on error.
func (s *SequenceService) Reorder(ctx context.Context, companyID, campaignID uint, stepIDs []uint) ([]models.EmailSequence, error) {
	var steps []models.EmailSequence
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := editableCampaign(tx, companyID, campaignID); err != nil {
			return err
		}
		current, err := orderedSteps(tx, campaignID)
		if err != nil {
			return err
		}
		if err := validatePermutation(current, stepIDs); err != nil {
			return err
		}

		// park every row on a negative position first so no intermediate
		// state collides on (campaign_id, step_order)
		if err := tx.Model(&models.EmailSequence{}).Where("campaign_id = ?", campaignID).
			Update("step_order", gorm.Expr("-step_order")).Error; err != nil {
			return err
		}
		for i, id := range stepIDs {
			if err := tx.Model(&models.EmailSequence{}).Where("id = ?", id).
				Update("step_order", i+1).Error; err != nil {
				return err
			}
		}

		steps, err = orderedSteps(tx, campaignID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return steps, nil
}

func validatePermutation(current []models.EmailSequence, ids []uint) error {
	known := make(map[uint]bool, len(current))
	for _, st := range current {
		known[st.ID] = true
	}

	seen := make(map[uint]bool, len(ids))
	fields := map[string]string{}
	for _, id := range ids {
		switch {
		case !known[id]:
			fields["step_ids"] = fmt.Sprintf("step %d does not belong to this campaign", id)
		case seen[id]:
			fields["step_ids"] = fmt.Sprintf("step %d listed more than once", id)
		}
		seen[id] = true
	}
	if len(fields) == 0 && len(ids) != len(current) {
		fields["step_ids"] = fmt.Sprintf("expected %d step ids, got %d", len(current), len(ids))
	}
	if len(fields) > 0 {
		return models.NewValidation("reorder must list every step exactly once", fields)
	}
	return nil
}
