package queue

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcosDelSer/laya-backbone-sub002/internal/domain"
	"github.com/MarcosDelSer/laya-backbone-sub002/internal/notify"
)

// mockRepo implements Repository in memory for testing.
type mockRepo struct {
	items      map[string]*domain.QueuedNotification
	claimDeny  map[string]bool
	fetchErr   error
	fetchLimit int
	purged     int64
	reset      int64
}

func newMockRepo(items ...*domain.QueuedNotification) *mockRepo {
	m := &mockRepo{
		items:     make(map[string]*domain.QueuedNotification),
		claimDeny: make(map[string]bool),
	}
	for _, item := range items {
		m.items[item.ID] = item
	}
	return m
}

func (m *mockRepo) Enqueue(_ context.Context, n *domain.QueuedNotification) error {
	m.items[n.ID] = n
	return nil
}

func (m *mockRepo) EnqueueBatch(_ context.Context, ns []*domain.QueuedNotification) error {
	for _, n := range ns {
		m.items[n.ID] = n
	}
	return nil
}

func (m *mockRepo) FetchPending(_ context.Context, limit int) ([]*domain.QueuedNotification, error) {
	m.fetchLimit = limit
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}

	var out []*domain.QueuedNotification
	for _, item := range m.items {
		if item.Status == domain.NotificationStatusPending && item.Attempts < item.MaxAttempts {
			copied := *item
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepo) Claim(_ context.Context, id string) (bool, error) {
	item, ok := m.items[id]
	if !ok {
		return false, ErrNotificationNotFound
	}
	if m.claimDeny[id] || item.Status != domain.NotificationStatusPending {
		return false, nil
	}
	item.Status = domain.NotificationStatusProcessing
	return true, nil
}

func (m *mockRepo) MarkSent(_ context.Context, id string) error {
	item, ok := m.items[id]
	if !ok {
		return ErrNotificationNotFound
	}
	now := time.Now()
	item.Status = domain.NotificationStatusSent
	item.SentAt = &now
	item.LastError = ""
	return nil
}

func (m *mockRepo) MarkFailed(_ context.Context, id string, sendErr error) error {
	item, ok := m.items[id]
	if !ok {
		return ErrNotificationNotFound
	}
	item.Status = domain.NotificationStatusFailed
	item.Attempts++
	item.LastError = sendErr.Error()
	return nil
}

func (m *mockRepo) ReturnForRetry(_ context.Context, id string, sendErr error) error {
	item, ok := m.items[id]
	if !ok {
		return ErrNotificationNotFound
	}
	item.Status = domain.NotificationStatusPending
	item.Attempts++
	item.LastError = sendErr.Error()
	return nil
}

func (m *mockRepo) MarkRead(_ context.Context, id string) error {
	item, ok := m.items[id]
	if !ok {
		return ErrNotificationNotFound
	}
	if item.Status != domain.NotificationStatusSent {
		return ErrNotificationNotFound
	}
	item.Status = domain.NotificationStatusRead
	return nil
}

func (m *mockRepo) ResetStuck(_ context.Context, _ time.Duration) (int64, error) {
	return m.reset, nil
}

func (m *mockRepo) Purge(_ context.Context, _ time.Duration) (int64, error) {
	return m.purged, nil
}

func (m *mockRepo) Stats(_ context.Context) (*Stats, error) {
	stats := &Stats{}
	for _, item := range m.items {
		switch item.Status {
		case domain.NotificationStatusPending:
			stats.Pending++
		case domain.NotificationStatusProcessing:
			stats.Processing++
		case domain.NotificationStatusSent:
			stats.Sent++
		case domain.NotificationStatusFailed:
			stats.Failed++
		case domain.NotificationStatusRead:
			stats.Read++
		}
	}
	return stats, nil
}

// mockDirectory implements notify.RecipientDirectory for testing.
type mockDirectory struct {
	recipients       map[string]*domain.Recipient
	deactivatedEmail []string
	deactivatedPush  []string
}

func newMockDirectory(recipients ...*domain.Recipient) *mockDirectory {
	m := &mockDirectory{recipients: make(map[string]*domain.Recipient)}
	for _, r := range recipients {
		m.recipients[r.ID] = r
	}
	return m
}

func (m *mockDirectory) GetRecipient(_ context.Context, id string) (*domain.Recipient, error) {
	r, ok := m.recipients[id]
	if !ok {
		return nil, notify.ErrRecipientNotFound
	}
	return r, nil
}

func (m *mockDirectory) DeactivateEmail(_ context.Context, recipientID string) error {
	m.deactivatedEmail = append(m.deactivatedEmail, recipientID)
	return nil
}

func (m *mockDirectory) DeactivatePushToken(_ context.Context, recipientID string) error {
	m.deactivatedPush = append(m.deactivatedPush, recipientID)
	return nil
}

// fakeChannel returns a canned result and counts sends.
type fakeChannel struct {
	kind   domain.DeliveryChannel
	result notify.Result
	sends  int
}

func (f *fakeChannel) Kind() domain.DeliveryChannel {
	return f.kind
}

func (f *fakeChannel) Send(_ context.Context, _ *domain.QueuedNotification, _ *domain.Recipient) notify.Result {
	f.sends++
	return f.result
}

func testRecipient() *domain.Recipient {
	return &domain.Recipient{
		ID:             "rcpt-1",
		Name:           "Jordan Avery",
		Role:           domain.RecipientRoleGuardian,
		Email:          "jordan@example.com",
		PushToken:      "token-abcdef",
		PushTokenValid: true,
	}
}

func testNotification(id string, channel domain.DeliveryChannel) *domain.QueuedNotification {
	return &domain.QueuedNotification{
		ID:          id,
		RecipientID: "rcpt-1",
		Type:        domain.NotificationTypeIncidentParent,
		Title:       "Incident report",
		Body:        "Details inside.",
		Channel:     channel,
		Status:      domain.NotificationStatusPending,
		MaxAttempts: 3,
		CreatedAt:   time.Now(),
	}
}

func TestWorker_ProcessBatch_Delivers(t *testing.T) {
	repo := newMockRepo(testNotification("n1", domain.DeliveryChannelEmail))
	directory := newMockDirectory(testRecipient())
	email := &fakeChannel{kind: domain.DeliveryChannelEmail, result: notify.Result{Delivered: true}}

	worker := NewWorker(DefaultConfig(), repo, directory, email)

	summary, err := worker.ProcessBatch(context.Background(), 0, false)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.SentEmail)
	assert.True(t, summary.Clean())
	assert.Equal(t, 1, email.sends)
	assert.Equal(t, domain.NotificationStatusSent, repo.items["n1"].Status)
	assert.NotNil(t, repo.items["n1"].SentAt)
}

func TestWorker_ProcessBatch_SkipIsTerminal(t *testing.T) {
	repo := newMockRepo(testNotification("n1", domain.DeliveryChannelEmail))
	directory := newMockDirectory(testRecipient())
	email := &fakeChannel{kind: domain.DeliveryChannelEmail, result: notify.Result{Skipped: true}}

	worker := NewWorker(DefaultConfig(), repo, directory, email)

	summary, err := worker.ProcessBatch(context.Background(), 0, false)
	require.NoError(t, err)

	// An opted-out recipient finalizes the row on the first attempt; it must
	// never come back as pending.
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, domain.NotificationStatusSent, repo.items["n1"].Status)
	assert.Equal(t, 0, repo.items["n1"].Attempts)
}

func TestWorker_ProcessBatch_RetriesUntilMaxAttempts(t *testing.T) {
	item := testNotification("n1", domain.DeliveryChannelPush)
	repo := newMockRepo(item)
	directory := newMockDirectory(testRecipient())
	push := &fakeChannel{
		kind:   domain.DeliveryChannelPush,
		result: notify.Result{Err: &notify.RetryableError{Message: "gateway unavailable", Code: 503}},
	}

	worker := NewWorker(DefaultConfig(), repo, directory, push)
	ctx := context.Background()

	var total Summary
	for i := 0; i < 5; i++ {
		summary, err := worker.ProcessBatch(ctx, 10, false)
		require.NoError(t, err)
		total.Add(summary)
	}

	// Exactly MaxAttempts send attempts, then the row is terminal and later
	// polls no longer see it.
	assert.Equal(t, 3, push.sends)
	assert.Equal(t, 2, total.Retried)
	assert.Equal(t, 1, total.Failed)
	assert.Equal(t, domain.NotificationStatusFailed, repo.items["n1"].Status)
	assert.Equal(t, 3, repo.items["n1"].Attempts)
	assert.Contains(t, repo.items["n1"].LastError, "max attempts exceeded")
}

func TestWorker_SetMaxAttempts_CapsRowLimit(t *testing.T) {
	item := testNotification("n1", domain.DeliveryChannelPush)
	repo := newMockRepo(item)
	directory := newMockDirectory(testRecipient())
	push := &fakeChannel{
		kind:   domain.DeliveryChannelPush,
		result: notify.Result{Err: &notify.RetryableError{Message: "gateway unavailable", Code: 503}},
	}

	worker := NewWorker(DefaultConfig(), repo, directory, push)
	worker.SetMaxAttempts(1)

	summary, err := worker.ProcessBatch(context.Background(), 10, false)
	require.NoError(t, err)

	// The runtime ceiling trumps the row's own budget of 3: the first
	// failure is terminal.
	assert.Equal(t, 1, push.sends)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Retried)
	assert.Equal(t, domain.NotificationStatusFailed, repo.items["n1"].Status)
	assert.Contains(t, repo.items["n1"].LastError, "max attempts exceeded")
}

func TestWorker_SetMaxAttempts_IgnoresNonPositive(t *testing.T) {
	worker := NewWorker(DefaultConfig(), newMockRepo(), newMockDirectory(testRecipient()))
	worker.SetMaxAttempts(0)
	worker.SetMaxAttempts(-4)
	assert.Equal(t, DefaultConfig().MaxAttempts, worker.config.MaxAttempts)
}

func TestWorker_ProcessBatch_BothChannelsPartialSuccess(t *testing.T) {
	repo := newMockRepo(testNotification("n1", domain.DeliveryChannelBoth))
	directory := newMockDirectory(testRecipient())
	email := &fakeChannel{kind: domain.DeliveryChannelEmail, result: notify.Result{Delivered: true}}
	push := &fakeChannel{
		kind:   domain.DeliveryChannelPush,
		result: notify.Result{Err: &notify.RetryableError{Message: "gateway error", Code: 502}},
	}

	worker := NewWorker(DefaultConfig(), repo, directory, email, push)

	summary, err := worker.ProcessBatch(context.Background(), 0, false)
	require.NoError(t, err)

	// One delivered channel is enough; the failed side is not re-driven.
	assert.Equal(t, 1, summary.SentEmail)
	assert.Equal(t, 0, summary.Retried)
	assert.Equal(t, domain.NotificationStatusSent, repo.items["n1"].Status)
	assert.Equal(t, 1, email.sends)
	assert.Equal(t, 1, push.sends)
}

func TestWorker_ProcessBatch_BothChannelsAllFail(t *testing.T) {
	repo := newMockRepo(testNotification("n1", domain.DeliveryChannelBoth))
	directory := newMockDirectory(testRecipient())
	email := &fakeChannel{
		kind:   domain.DeliveryChannelEmail,
		result: notify.Result{Err: &notify.RetryableError{Message: "smtp timeout"}},
	}
	push := &fakeChannel{
		kind:   domain.DeliveryChannelPush,
		result: notify.Result{Err: &notify.RetryableError{Message: "gateway error", Code: 502}},
	}

	worker := NewWorker(DefaultConfig(), repo, directory, email, push)

	summary, err := worker.ProcessBatch(context.Background(), 0, false)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Retried)
	assert.Equal(t, domain.NotificationStatusPending, repo.items["n1"].Status)
	assert.Equal(t, 1, repo.items["n1"].Attempts)
	assert.Contains(t, repo.items["n1"].LastError, "smtp timeout")
	assert.Contains(t, repo.items["n1"].LastError, "gateway error")
}

func TestWorker_ProcessBatch_SkippedPlusErrorRetries(t *testing.T) {
	repo := newMockRepo(testNotification("n1", domain.DeliveryChannelBoth))
	directory := newMockDirectory(testRecipient())
	email := &fakeChannel{kind: domain.DeliveryChannelEmail, result: notify.Result{Skipped: true}}
	push := &fakeChannel{
		kind:   domain.DeliveryChannelPush,
		result: notify.Result{Err: &notify.RetryableError{Message: "gateway error"}},
	}

	worker := NewWorker(DefaultConfig(), repo, directory, email, push)

	summary, err := worker.ProcessBatch(context.Background(), 0, false)
	require.NoError(t, err)

	// Nothing delivered and not every invoked channel skipped: the push side
	// still owes a delivery, so the row retries.
	assert.Equal(t, 1, summary.Retried)
	assert.Equal(t, domain.NotificationStatusPending, repo.items["n1"].Status)
}

func TestWorker_ProcessBatch_ClaimContention(t *testing.T) {
	repo := newMockRepo(
		testNotification("n1", domain.DeliveryChannelEmail),
		testNotification("n2", domain.DeliveryChannelEmail),
	)
	repo.claimDeny["n1"] = true
	directory := newMockDirectory(testRecipient())
	email := &fakeChannel{kind: domain.DeliveryChannelEmail, result: notify.Result{Delivered: true}}

	worker := NewWorker(DefaultConfig(), repo, directory, email)

	summary, err := worker.ProcessBatch(context.Background(), 0, false)
	require.NoError(t, err)

	// A lost claim is skipped silently, not an error and not a failure.
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.SentEmail)
	assert.Equal(t, 1, email.sends)
	assert.Equal(t, domain.NotificationStatusPending, repo.items["n1"].Status)
}

func TestWorker_ProcessBatch_DryRun(t *testing.T) {
	repo := newMockRepo(
		testNotification("n1", domain.DeliveryChannelEmail),
		testNotification("n2", domain.DeliveryChannelPush),
	)
	directory := newMockDirectory(testRecipient())
	email := &fakeChannel{kind: domain.DeliveryChannelEmail, result: notify.Result{Delivered: true}}
	push := &fakeChannel{kind: domain.DeliveryChannelPush, result: notify.Result{Delivered: true}}

	worker := NewWorker(DefaultConfig(), repo, directory, email, push)

	summary, err := worker.ProcessBatch(context.Background(), 0, true)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 0, email.sends)
	assert.Equal(t, 0, push.sends)
	assert.Equal(t, domain.NotificationStatusPending, repo.items["n1"].Status)
	assert.Equal(t, domain.NotificationStatusPending, repo.items["n2"].Status)
}

func TestWorker_ProcessBatch_LimitFallsBackToConfig(t *testing.T) {
	repo := newMockRepo()
	config := DefaultConfig()
	config.BatchSize = 7

	worker := NewWorker(config, repo, newMockDirectory())

	_, err := worker.ProcessBatch(context.Background(), 0, false)
	require.NoError(t, err)
	assert.Equal(t, 7, repo.fetchLimit)

	_, err = worker.ProcessBatch(context.Background(), 3, false)
	require.NoError(t, err)
	assert.Equal(t, 3, repo.fetchLimit)
}

func TestWorker_ProcessBatch_FetchError(t *testing.T) {
	repo := newMockRepo()
	repo.fetchErr = errors.New("connection refused")

	worker := NewWorker(DefaultConfig(), repo, newMockDirectory())

	_, err := worker.ProcessBatch(context.Background(), 0, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch pending notifications")
}

func TestWorker_ProcessBatch_RecipientMissingIsTerminal(t *testing.T) {
	repo := newMockRepo(testNotification("n1", domain.DeliveryChannelEmail))
	directory := newMockDirectory() // no recipients
	email := &fakeChannel{kind: domain.DeliveryChannelEmail, result: notify.Result{Delivered: true}}

	worker := NewWorker(DefaultConfig(), repo, directory, email)

	summary, err := worker.ProcessBatch(context.Background(), 0, false)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, email.sends)
	assert.Equal(t, domain.NotificationStatusFailed, repo.items["n1"].Status)
	assert.Contains(t, repo.items["n1"].LastError, "recipient not found")
}

func TestWorker_ProcessBatch_InvalidEmailDeactivates(t *testing.T) {
	repo := newMockRepo(testNotification("n1", domain.DeliveryChannelEmail))
	directory := newMockDirectory(testRecipient())
	email := &fakeChannel{
		kind:   domain.DeliveryChannelEmail,
		result: notify.Result{Skipped: true, InvalidIdentity: true},
	}

	worker := NewWorker(DefaultConfig(), repo, directory, email)

	summary, err := worker.ProcessBatch(context.Background(), 0, false)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, []string{"rcpt-1"}, directory.deactivatedEmail)
	assert.Empty(t, directory.deactivatedPush)
}

func TestWorker_ProcessBatch_UnregisteredTokenDeactivates(t *testing.T) {
	repo := newMockRepo(testNotification("n1", domain.DeliveryChannelPush))
	directory := newMockDirectory(testRecipient())
	push := &fakeChannel{
		kind: domain.DeliveryChannelPush,
		result: notify.Result{
			InvalidIdentity: true,
			Err:             &notify.PermanentError{Message: "push token unregistered", Code: 410},
		},
	}

	worker := NewWorker(DefaultConfig(), repo, directory, push)

	summary, err := worker.ProcessBatch(context.Background(), 0, false)
	require.NoError(t, err)

	// The identity signal fires, and a permanent rejection is terminal for
	// the row itself as well.
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"rcpt-1"}, directory.deactivatedPush)
	assert.Equal(t, domain.NotificationStatusFailed, repo.items["n1"].Status)
}

func TestWorker_ProcessBatch_PermanentErrorIsTerminal(t *testing.T) {
	repo := newMockRepo(testNotification("n1", domain.DeliveryChannelEmail))
	directory := newMockDirectory(testRecipient())
	email := &fakeChannel{
		kind:   domain.DeliveryChannelEmail,
		result: notify.Result{Err: &notify.PermanentError{Message: "554 rejected"}},
	}

	worker := NewWorker(DefaultConfig(), repo, directory, email)

	summary, err := worker.ProcessBatch(context.Background(), 0, false)
	require.NoError(t, err)

	// Retrying a permanently rejected message cannot succeed; the row fails
	// on the first attempt.
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, email.sends)
	assert.Equal(t, domain.NotificationStatusFailed, repo.items["n1"].Status)
	assert.Contains(t, repo.items["n1"].LastError, "554 rejected")
}

func TestWorker_ProcessBatch_UnknownChannelIsTerminal(t *testing.T) {
	item := testNotification("n1", "carrier-pigeon")
	repo := newMockRepo(item)
	directory := newMockDirectory(testRecipient())

	worker := NewWorker(DefaultConfig(), repo, directory)

	summary, err := worker.ProcessBatch(context.Background(), 0, false)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, domain.NotificationStatusFailed, repo.items["n1"].Status)
}

func TestWorker_ProcessBatch_MissingSenderRetries(t *testing.T) {
	repo := newMockRepo(testNotification("n1", domain.DeliveryChannelEmail))
	directory := newMockDirectory(testRecipient())

	// Channel implies email but no email sender is registered.
	worker := NewWorker(DefaultConfig(), repo, directory)

	summary, err := worker.ProcessBatch(context.Background(), 0, false)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Retried)
	assert.Contains(t, repo.items["n1"].LastError, "no email sender configured")
}

func TestWorker_Purge(t *testing.T) {
	repo := newMockRepo()
	repo.purged = 12

	worker := NewWorker(DefaultConfig(), repo, newMockDirectory())

	removed, err := worker.Purge(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(12), removed)
}

func TestWorker_ResetStuck(t *testing.T) {
	repo := newMockRepo()
	repo.reset = 3

	worker := NewWorker(DefaultConfig(), repo, newMockDirectory())

	reset, err := worker.ResetStuck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), reset)
}

func TestSummary_Clean(t *testing.T) {
	tests := []struct {
		name     string
		summary  Summary
		expected bool
	}{
		{"empty", Summary{}, true},
		{"all sent", Summary{Processed: 5, SentEmail: 3, SentPush: 2}, true},
		{"skips are clean", Summary{Processed: 2, Skipped: 2}, true},
		{"retried is dirty", Summary{Processed: 1, Retried: 1}, false},
		{"failed is dirty", Summary{Processed: 1, Failed: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.summary.Clean())
		})
	}
}

func TestFormatSummary(t *testing.T) {
	s := Summary{Processed: 4, SentEmail: 2, SentPush: 1, Skipped: 1, Retried: 0, Failed: 0}
	assert.Equal(t, "processed=4 sent_email=2 sent_push=1 skipped=1 retried=0 failed=0", FormatSummary(s))
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 50, config.BatchSize)
	assert.Equal(t, 3, config.MaxAttempts)
	assert.Equal(t, 30*24*time.Hour, config.PurgeRetention)
	assert.Equal(t, 15*time.Minute, config.StuckTimeout)
}
