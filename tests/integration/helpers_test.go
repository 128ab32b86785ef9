//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/MarcosDelSer/laya-backbone-sub002/internal/domain"
)

// cleanTables wipes queue and collaborator tables so every test starts from
// an empty store.
func cleanTables(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	for _, table := range []string{
		"notifications", "escalations", "settings",
		"guardians", "staff", "incidents", "children", "recipients",
	} {
		_, err := testDB.Exec(ctx, "DELETE FROM "+table)
		require.NoError(t, err, "clean %s", table)
	}
}

type recipientOption func(*recipientRow)

type recipientRow struct {
	role           string
	email          string
	pushToken      string
	emailOptOut    bool
	pushOptOut     bool
	pushTokenValid bool
}

func withEmail(email string) recipientOption {
	return func(r *recipientRow) { r.email = email }
}

func withPushToken(token string) recipientOption {
	return func(r *recipientRow) { r.pushToken = token }
}

func withEmailOptOut() recipientOption {
	return func(r *recipientRow) { r.emailOptOut = true }
}

func createRecipient(t *testing.T, name string, opts ...recipientOption) string {
	t.Helper()

	row := recipientRow{
		role:           "guardian",
		email:          uuid.NewString()[:8] + "@example.com",
		pushTokenValid: true,
	}
	for _, opt := range opts {
		opt(&row)
	}

	id := uuid.NewString()
	_, err := testDB.Exec(context.Background(), `
		INSERT INTO recipients (id, name, role, email, push_token, email_opt_out, push_opt_out, push_token_valid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, name, row.role, row.email, row.pushToken, row.emailOptOut, row.pushOptOut, row.pushTokenValid)
	require.NoError(t, err)
	return id
}

func createChild(t *testing.T, name, schoolID string) string {
	t.Helper()

	id := uuid.NewString()
	_, err := testDB.Exec(context.Background(), `
		INSERT INTO children (id, name, school_id) VALUES ($1, $2, $3)
	`, id, name, schoolID)
	require.NoError(t, err)
	return id
}

func linkGuardian(t *testing.T, childID, recipientID string, priority int) {
	t.Helper()

	_, err := testDB.Exec(context.Background(), `
		INSERT INTO guardians (child_id, recipient_id, priority, active)
		VALUES ($1, $2, $3, true)
	`, childID, recipientID, priority)
	require.NoError(t, err)
}

func linkStaff(t *testing.T, schoolID, recipientID, role, title string) {
	t.Helper()

	_, err := testDB.Exec(context.Background(), `
		INSERT INTO staff (recipient_id, school_id, role, title, active)
		VALUES ($1, $2, $3, $4, true)
	`, recipientID, schoolID, role, title)
	require.NoError(t, err)
}

func createIncident(t *testing.T, childID, schoolID string, severity domain.IncidentSeverity) string {
	t.Helper()

	id := uuid.NewString()
	_, err := testDB.Exec(context.Background(), `
		INSERT INTO incidents (id, child_id, school_id, type, severity, description, action_taken, occurred_at)
		VALUES ($1, $2, $3, 'injury', $4, 'Scraped knee on the playground.', 'Cleaned and bandaged.', NOW())
	`, id, childID, schoolID, string(severity))
	require.NoError(t, err)
	return id
}

func acknowledgeIncident(t *testing.T, incidentID string) {
	t.Helper()

	_, err := testDB.Exec(context.Background(), `
		UPDATE incidents SET parent_acknowledged_at = NOW() WHERE id = $1
	`, incidentID)
	require.NoError(t, err)
}

func enqueueNotification(t *testing.T, recipientID string, channel domain.DeliveryChannel) *domain.QueuedNotification {
	t.Helper()

	n := &domain.QueuedNotification{
		RecipientID: recipientID,
		Type:        domain.NotificationTypeIncidentParent,
		Title:       "Incident report",
		Body:        "Details inside.",
		Channel:     channel,
		Status:      domain.NotificationStatusPending,
		MaxAttempts: 3,
	}
	require.NoError(t, queueRepo.Enqueue(context.Background(), n))
	return n
}

// backdateNotification shifts a row's created_at so purge cutoffs can be
// tested without waiting.
func backdateNotification(t *testing.T, id string, age time.Duration) {
	t.Helper()

	_, err := testDB.Exec(context.Background(), `
		UPDATE notifications SET created_at = NOW() - $2::interval WHERE id = $1
	`, id, age.String())
	require.NoError(t, err)
}

// backdateProcessing makes a processing row look stale for stuck-row tests.
func backdateProcessing(t *testing.T, id string, age time.Duration) {
	t.Helper()

	_, err := testDB.Exec(context.Background(), `
		UPDATE notifications SET updated_at = NOW() - $2::interval WHERE id = $1
	`, id, age.String())
	require.NoError(t, err)
}

func notificationStatus(t *testing.T, id string) domain.NotificationStatus {
	t.Helper()

	var status string
	err := testDB.QueryRow(context.Background(), `
		SELECT status FROM notifications WHERE id = $1
	`, id).Scan(&status)
	require.NoError(t, err)
	return domain.NotificationStatus(status)
}

func setSetting(t *testing.T, scope, key, value string) {
	t.Helper()

	_, err := testDB.Exec(context.Background(), `
		INSERT INTO settings (scope, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (scope, key) DO UPDATE SET value = EXCLUDED.value
	`, scope, key, value)
	require.NoError(t, err)
}
