package controller

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"leadflow/middleware"
	"leadflow/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	return db
}

// newTestApp wires the API surface against a throwaway database and returns
// the seeded organization.
func newTestApp(t *testing.T) (*fiber.App, *gorm.DB, *models.Organization) {
	t.Helper()
	db := openTestDB(t)

	org := &models.Organization{Name: "Acme", Timezone: "UTC"}
	require.NoError(t, db.Create(org).Error)

	quiet := log.New(io.Discard, "", 0)
	templateController := NewTemplateController(db, quiet)
	enrollmentController := NewEnrollmentController(db, quiet)
	eventController := NewEventController(db, quiet)

	app := fiber.New()

	templates := app.Group("/templates", middleware.RequireOrganization(db))
	templates.Post("/", templateController.CreateTemplate)
	templates.Get("/", templateController.ListTemplates)
	templates.Get("/:id", templateController.GetTemplate)
	templates.Put("/:id", templateController.UpdateTemplate)
	templates.Delete("/:id", templateController.DeleteTemplate)
	templates.Post("/:id/clone", templateController.CloneTemplate)
	templates.Put("/:id/graph", templateController.SaveGraph)
	templates.Put("/:id/steps/reorder", templateController.ReorderSteps)
	templates.Get("/:id/stats", templateController.GetTemplateStats)

	enrollments := app.Group("/enrollments", middleware.RequireOrganization(db))
	enrollments.Post("/", enrollmentController.Enroll)
	enrollments.Post("/bulk", enrollmentController.BulkEnroll)
	enrollments.Get("/", enrollmentController.ListEnrollments)
	enrollments.Get("/:id", enrollmentController.GetEnrollment)
	enrollments.Put("/:id/status", enrollmentController.UpdateStatus)

	stats := app.Group("/stats", middleware.RequireOrganization(db))
	stats.Get("/sends", templateController.GetSendStats)

	app.Post("/events/webhook", eventController.HandleEventWebhook)
	app.Get("/track/open/:token", eventController.HandleOpenTracking)
	app.Get("/track/click/:token", eventController.HandleClickTracking)

	return app, db, org
}

// doJSON performs one API call and decodes the JSON response body.
func doJSON(t *testing.T, app *fiber.App, method, path string, orgID uint, payload interface{}) (int, map[string]interface{}) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if orgID != 0 {
		req.Header.Set("X-Organization-ID", strconv.FormatUint(uint64(orgID), 10))
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	decoded := map[string]interface{}{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded
}

func seedLead(t *testing.T, db *gorm.DB, orgID uint, email string) *models.Lead {
	t.Helper()
	lead := &models.Lead{OrganizationID: orgID, Email: email, FirstName: "Ada"}
	require.NoError(t, db.Create(lead).Error)
	return lead
}

func seedTemplate(t *testing.T, db *gorm.DB, orgID uint) *models.SequenceTemplate {
	t.Helper()
	template := &models.SequenceTemplate{OrganizationID: orgID, Name: "Outbound", IsActive: true}
	require.NoError(t, db.Create(template).Error)
	steps := []models.SequenceStep{
		{TemplateID: template.ID, StepNumber: 1, StepType: models.StepTypeEmail, Subject: "Intro", Body: "<p>hi</p>"},
		{TemplateID: template.ID, StepNumber: 2, StepType: models.StepTypeWait, WaitDays: 2},
		{TemplateID: template.ID, StepNumber: 3, StepType: models.StepTypeEmail, Subject: "Follow up", Body: "<p>bump</p>"},
	}
	for i := range steps {
		require.NoError(t, db.Create(&steps[i]).Error)
	}
	return template
}
