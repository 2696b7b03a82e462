package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/noah-isme/transport-admin-api/internal/dto"
	"github.com/noah-isme/transport-admin-api/internal/models"
	appErrors "github.com/noah-isme/transport-admin-api/pkg/errors"
)

// StudentTracking returns the caller's grievances, or one of them with its public conversation and
// timeline when grievanceID is set. Internal notes and private activity never leave this method.
func (s *GrievanceService) StudentTracking(ctx context.Context, actor *models.JWTClaims, grievanceID string) (*dto.StudentTrackingResponse, error) {
	studentID, err := studentOf(actor)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(grievanceID) == "" {
		grievances, _, err := s.store.List(ctx, models.GrievanceFilter{StudentID: studentID, Page: 1, Limit: 100})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grievances")
		}
		if grievances == nil {
			grievances = []models.Grievance{}
		}
		return &dto.StudentTrackingResponse{Grievances: grievances}, nil
	}

	grievance, err := s.ownedBy(ctx, grievanceID, studentID)
	if err != nil {
		return nil, err
	}

	comms, err := s.store.ListCommunications(ctx, grievance.ID, false)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load communications")
	}
	activities, err := s.store.ListActivities(ctx, grievance.ID, []string{models.VisibilityPublic})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timeline")
	}

	tracking := &dto.GrievanceTracking{
		Grievance:      *grievance,
		Communications: make([]models.GrievanceCommunication, 0, len(comms)),
		Timeline:       make([]models.GrievanceActivity, 0, len(activities)),
		CanRate:        grievance.Status == models.GrievanceStatusResolved && grievance.SatisfactionRating == nil,
	}
	for _, comm := range comms {
		if !comm.IsInternal {
			tracking.Communications = append(tracking.Communications, comm)
		}
	}
	for _, activity := range activities {
		if activity.Visibility == models.VisibilityPublic {
			tracking.Timeline = append(tracking.Timeline, activity)
		}
	}
	return &dto.StudentTrackingResponse{Tracking: tracking}, nil
}

// StudentSubmit stores a student message. A satisfaction rating is written onto the grievance only
// while it is resolved; otherwise it stays in the conversation log.
func (s *GrievanceService) StudentSubmit(ctx context.Context, actor *models.JWTClaims, req dto.StudentSubmissionRequest) (*dto.StudentSubmissionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err)
	}
	studentID, err := studentOf(actor)
	if err != nil {
		return nil, err
	}

	message := s.clean(req.Message)
	isRating := req.Type == dto.SubmissionSatisfactionRating
	if isRating {
		if req.Rating == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "rating is required")
		}
		if message == "" {
			message = fmt.Sprintf("Rated %d/5", *req.Rating)
		}
	} else if message == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "message is required")
	}

	grievance, err := s.ownedBy(ctx, req.GrievanceID, studentID)
	if err != nil {
		return nil, err
	}

	resp := &dto.StudentSubmissionResponse{}
	if isRating && grievance.Status == models.GrievanceStatusResolved {
		// The status is checked again by the write; a concurrent reopen leaves the rating logged only.
		applied, err := s.store.ApplyRating(ctx, grievance.ID, *req.Rating)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save rating")
		}
		if applied {
			rating := *req.Rating
			grievance.SatisfactionRating = &rating
		}
		resp.RatingApplied = applied
	}

	comm := &models.GrievanceCommunication{
		GrievanceID:       grievance.ID,
		SenderID:          actor.UserID,
		SenderType:        models.ParticipantStudent,
		RecipientID:       grievance.AssignedTo,
		Message:           message,
		CommunicationType: req.Type,
		CreatedAt:         s.now().UTC(),
	}
	if grievance.AssignedTo != nil {
		comm.RecipientType = strPtrOf(models.ParticipantAdmin)
	}
	if err := s.store.CreateCommunication(ctx, comm); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save message")
	}
	resp.Communication = comm

	kind := models.ActivityCommunication
	description := "Student sent " + strings.ReplaceAll(req.Type, "_", " ")
	var newValue *string
	if isRating {
		kind = models.ActivityRating
		newValue = strPtrOf(fmt.Sprintf("%d", *req.Rating))
		if !resp.RatingApplied {
			description = "Rating received before resolution"
		}
	}
	s.appendActivity(ctx, grievance.ID, actor, kind, description, nil, newValue, models.VisibilityPublic)

	if resp.RatingApplied {
		s.publish(ctx, EventGrievanceRated, grievance, actor.UserID, nil)
	} else {
		s.publish(ctx, EventGrievanceMessage, grievance, actor.UserID, nil)
	}
	s.invalidate(ctx)

	return resp, nil
}

func (s *GrievanceService) ownedBy(ctx context.Context, grievanceID, studentID string) (*models.Grievance, error) {
	grievance, err := s.load(ctx, grievanceID)
	if err != nil {
		return nil, err
	}
	if grievance.StudentID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "grievance belongs to another student")
	}
	return grievance, nil
}

func studentOf(actor *models.JWTClaims) (string, error) {
	if actor == nil {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if actor.StudentID == "" {
		return "", appErrors.Clone(appErrors.ErrForbidden, "student profile required")
	}
	return actor.StudentID, nil
}
