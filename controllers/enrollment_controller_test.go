package controller

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"leadflow/models"
)

func TestEnroll(t *testing.T) {
	app, db, org := newTestApp(t)
	template := seedTemplate(t, db, org.ID)
	lead := seedLead(t, db, org.ID, "ada@example.com")

	status, body := doJSON(t, app, "POST", "/enrollments/", org.ID, map[string]interface{}{
		"lead_id":     lead.ID,
		"template_id": template.ID,
	})
	require.Equal(t, 201, status, "body: %v", body)

	var enrollment models.SequenceEnrollment
	require.NoError(t, db.Where("lead_id = ? AND template_id = ?", lead.ID, template.ID).First(&enrollment).Error)
	require.Equal(t, models.EnrollmentActive, enrollment.Status)
	require.Equal(t, 1, enrollment.CurrentStep)
	require.NotNil(t, enrollment.NextStepScheduledAt, "the first step is due immediately")

	require.NoError(t, db.First(template, template.ID).Error)
	require.Equal(t, 1, template.RunCount)
}

func TestEnrollRejectsDuplicate(t *testing.T) {
	app, db, org := newTestApp(t)
	template := seedTemplate(t, db, org.ID)
	lead := seedLead(t, db, org.ID, "ada@example.com")

	payload := map[string]interface{}{"lead_id": lead.ID, "template_id": template.ID}
	status, _ := doJSON(t, app, "POST", "/enrollments/", org.ID, payload)
	require.Equal(t, 201, status)

	status, body := doJSON(t, app, "POST", "/enrollments/", org.ID, payload)
	require.Equal(t, 409, status)
	require.Contains(t, body["error"], "already")
}

// The pre-insert count can race between two concurrent enrolls; the partial
// unique index is the backstop. A second running enrollment must not insert
// even when it bypasses the count check.
func TestEnrollDuplicateBlockedAtDatabase(t *testing.T) {
	app, db, org := newTestApp(t)
	template := seedTemplate(t, db, org.ID)
	lead := seedLead(t, db, org.ID, "ada@example.com")

	status, _ := doJSON(t, app, "POST", "/enrollments/", org.ID, map[string]interface{}{
		"lead_id":     lead.ID,
		"template_id": template.ID,
	})
	require.Equal(t, 201, status)

	err := db.Create(&models.SequenceEnrollment{
		TemplateID:     template.ID,
		LeadID:         lead.ID,
		OrganizationID: org.ID,
		Status:         models.EnrollmentActive,
		CurrentStep:    1,
	}).Error
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	// A finished enrollment does not block re-enrollment rows
	require.NoError(t, db.Model(&models.SequenceEnrollment{}).
		Where("template_id = ? AND lead_id = ?", template.ID, lead.ID).
		Update("status", models.EnrollmentCompleted).Error)
	require.NoError(t, db.Create(&models.SequenceEnrollment{
		TemplateID:     template.ID,
		LeadID:         lead.ID,
		OrganizationID: org.ID,
		Status:         models.EnrollmentActive,
		CurrentStep:    1,
	}).Error)
}

func TestEnrollRequiresOrganizationHeader(t *testing.T) {
	app, db, org := newTestApp(t)
	template := seedTemplate(t, db, org.ID)
	lead := seedLead(t, db, org.ID, "ada@example.com")

	status, _ := doJSON(t, app, "POST", "/enrollments/", 0, map[string]interface{}{
		"lead_id":     lead.ID,
		"template_id": template.ID,
	})
	require.Equal(t, 422, status)
}

func TestEnrollIsTenantScoped(t *testing.T) {
	app, db, org := newTestApp(t)
	template := seedTemplate(t, db, org.ID)

	other := &models.Organization{Name: "Rival", Timezone: "UTC"}
	require.NoError(t, db.Create(other).Error)
	foreignLead := seedLead(t, db, other.ID, "bob@rival.example")

	// The rival org cannot see our template
	status, _ := doJSON(t, app, "POST", "/enrollments/", other.ID, map[string]interface{}{
		"lead_id":     foreignLead.ID,
		"template_id": template.ID,
	})
	require.Equal(t, 404, status)

	// And we cannot enroll their lead
	status, _ = doJSON(t, app, "POST", "/enrollments/", org.ID, map[string]interface{}{
		"lead_id":     foreignLead.ID,
		"template_id": template.ID,
	})
	require.Equal(t, 404, status)
}

func TestEnrollRejectsDeactivatedTemplate(t *testing.T) {
	app, db, org := newTestApp(t)
	template := seedTemplate(t, db, org.ID)
	lead := seedLead(t, db, org.ID, "ada@example.com")
	require.NoError(t, db.Model(template).Update("is_active", false).Error)

	status, _ := doJSON(t, app, "POST", "/enrollments/", org.ID, map[string]interface{}{
		"lead_id":     lead.ID,
		"template_id": template.ID,
	})
	require.Equal(t, 422, status)
}

func TestEnrollRejectsNonContactableLead(t *testing.T) {
	app, db, org := newTestApp(t)
	template := seedTemplate(t, db, org.ID)
	lead := seedLead(t, db, org.ID, "ada@example.com")
	require.NoError(t, db.Model(lead).Update("is_unsubscribed", true).Error)

	status, _ := doJSON(t, app, "POST", "/enrollments/", org.ID, map[string]interface{}{
		"lead_id":     lead.ID,
		"template_id": template.ID,
	})
	require.Equal(t, 422, status)
}

func TestBulkEnroll(t *testing.T) {
	app, db, org := newTestApp(t)
	template := seedTemplate(t, db, org.ID)

	good := seedLead(t, db, org.ID, "ada@example.com")
	bounced := seedLead(t, db, org.ID, "bounced@example.com")
	require.NoError(t, db.Model(bounced).Update("is_bounced", true).Error)
	malformed := seedLead(t, db, org.ID, "not-an-email")

	status, body := doJSON(t, app, "POST", "/enrollments/bulk", org.ID, map[string]interface{}{
		"template_id": template.ID,
		"lead_ids":    []uint{good.ID, bounced.ID, malformed.ID, 9999},
	})
	require.Equal(t, 200, status)
	require.EqualValues(t, 1, body["enrolled"])

	results := body["results"].([]interface{})
	require.Len(t, results, 4)

	// One bad lead never fails the batch
	var count int64
	require.NoError(t, db.Model(&models.SequenceEnrollment{}).
		Where("template_id = ?", template.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestUpdateStatusLifecycle(t *testing.T) {
	app, db, org := newTestApp(t)
	template := seedTemplate(t, db, org.ID)
	lead := seedLead(t, db, org.ID, "ada@example.com")

	status, _ := doJSON(t, app, "POST", "/enrollments/", org.ID, map[string]interface{}{
		"lead_id": lead.ID, "template_id": template.ID,
	})
	require.Equal(t, 201, status)

	var enrollment models.SequenceEnrollment
	require.NoError(t, db.Where("template_id = ?", template.ID).First(&enrollment).Error)
	path := fmt.Sprintf("/enrollments/%d/status", enrollment.ID)

	// Pause keeps the schedule
	status, _ = doJSON(t, app, "PUT", path, org.ID, map[string]interface{}{
		"status": "paused", "reason": "reviewing copy",
	})
	require.Equal(t, 200, status)
	require.NoError(t, db.First(&enrollment, enrollment.ID).Error)
	require.Equal(t, models.EnrollmentPaused, enrollment.Status)
	require.Equal(t, "reviewing copy", enrollment.PauseReason)
	require.NotNil(t, enrollment.NextStepScheduledAt)

	// Resume
	status, _ = doJSON(t, app, "PUT", path, org.ID, map[string]interface{}{"status": "active"})
	require.Equal(t, 200, status)
	require.NoError(t, db.First(&enrollment, enrollment.ID).Error)
	require.Equal(t, models.EnrollmentActive, enrollment.Status)
	require.Empty(t, enrollment.PauseReason)

	// Stop defaults its reason
	status, _ = doJSON(t, app, "PUT", path, org.ID, map[string]interface{}{"status": "stopped"})
	require.Equal(t, 200, status)
	enrollmentID := enrollment.ID
	enrollment = models.SequenceEnrollment{}
	require.NoError(t, db.First(&enrollment, enrollmentID).Error)
	require.Equal(t, models.EnrollmentStopped, enrollment.Status)
	require.Equal(t, models.StopReasonUserRequested, enrollment.StopReason)
	require.Nil(t, enrollment.NextStepScheduledAt)

	// Terminal means terminal
	status, _ = doJSON(t, app, "PUT", path, org.ID, map[string]interface{}{"status": "active"})
	require.Equal(t, 409, status)
}

func TestUpdateStatusRejectsCompleted(t *testing.T) {
	app, db, org := newTestApp(t)
	template := seedTemplate(t, db, org.ID)
	lead := seedLead(t, db, org.ID, "ada@example.com")

	doJSON(t, app, "POST", "/enrollments/", org.ID, map[string]interface{}{
		"lead_id": lead.ID, "template_id": template.ID,
	})
	var enrollment models.SequenceEnrollment
	require.NoError(t, db.Where("template_id = ?", template.ID).First(&enrollment).Error)

	// Completion belongs to the scheduler, not the API
	status, _ := doJSON(t, app, "PUT", fmt.Sprintf("/enrollments/%d/status", enrollment.ID), org.ID,
		map[string]interface{}{"status": "completed"})
	require.Equal(t, 422, status)
}

func TestListEnrollmentsFilters(t *testing.T) {
	app, db, org := newTestApp(t)
	template := seedTemplate(t, db, org.ID)
	other := seedTemplate(t, db, org.ID)

	for i, tplID := range []uint{template.ID, template.ID, other.ID} {
		lead := seedLead(t, db, org.ID, fmt.Sprintf("lead%d@example.com", i))
		status, _ := doJSON(t, app, "POST", "/enrollments/", org.ID, map[string]interface{}{
			"lead_id": lead.ID, "template_id": tplID,
		})
		require.Equal(t, 201, status)
	}

	req := fmt.Sprintf("/enrollments/?template_id=%d", template.ID)
	statusCode, _ := doJSON(t, app, "GET", req, org.ID, nil)
	require.Equal(t, 200, statusCode)

	var enrollments []models.SequenceEnrollment
	require.NoError(t, db.Where("organization_id = ? AND template_id = ?", org.ID, template.ID).Find(&enrollments).Error)
	require.Len(t, enrollments, 2)
}

func TestGetEnrollmentIncludesExecutions(t *testing.T) {
	app, db, org := newTestApp(t)
	template := seedTemplate(t, db, org.ID)
	lead := seedLead(t, db, org.ID, "ada@example.com")

	doJSON(t, app, "POST", "/enrollments/", org.ID, map[string]interface{}{
		"lead_id": lead.ID, "template_id": template.ID,
	})
	var enrollment models.SequenceEnrollment
	require.NoError(t, db.Where("template_id = ?", template.ID).First(&enrollment).Error)

	status, body := doJSON(t, app, "GET", fmt.Sprintf("/enrollments/%d", enrollment.ID), org.ID, nil)
	require.Equal(t, 200, status)
	require.EqualValues(t, enrollment.ID, body["ID"])

	// Other tenants get a 404, not someone else's data
	other := &models.Organization{Name: "Rival", Timezone: "UTC"}
	require.NoError(t, db.Create(other).Error)
	status, _ = doJSON(t, app, "GET", fmt.Sprintf("/enrollments/%d", enrollment.ID), other.ID, nil)
	require.Equal(t, 404, status)
}
