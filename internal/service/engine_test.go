package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"volunteerhub/internal/config"
	"volunteerhub/internal/model"
	"volunteerhub/internal/pkg/database"
	"volunteerhub/internal/pkg/notify"

	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recordingNotifier) Notify(msg notify.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingNotifier) messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.msgs...)
}

var emailSeq atomic.Int64

func uniqueEmail(prefix string) string {
	return fmt.Sprintf("%s%d@example.com", prefix, emailSeq.Add(1))
}

func newTestEngine(t *testing.T) (*Engine, *recordingNotifier) {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:?_pragma=foreign_keys(1)"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	require.NoError(t, database.Migrate(db))

	rec := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(db, rec, logger), rec
}

func actorOf(u *model.User) Actor {
	return Actor{UserID: u.ID, Email: u.Email, Role: u.Role}
}

func seedAdmin(t *testing.T, e *Engine) Actor {
	t.Helper()
	admin, created, err := e.BootstrapAdmin(context.Background(), uniqueEmail("admin"), "secret123", "Admin")
	require.NoError(t, err)
	require.True(t, created)
	return actorOf(admin)
}

func seedVolunteer(t *testing.T, e *Engine) Actor {
	t.Helper()
	u, err := e.Register(context.Background(), RegisterInput{
		Role:     model.RoleVolunteer,
		Email:    uniqueEmail("vol"),
		Password: "secret123",
		Name:     "Volunteer",
		Skills:   []string{"First Aid"},
	})
	require.NoError(t, err)
	return actorOf(u)
}

func seedOrganization(t *testing.T, e *Engine, admin Actor, status model.ModerationStatus) Actor {
	t.Helper()
	u, err := e.Register(context.Background(), RegisterInput{
		Role:     model.RoleOrganization,
		Email:    uniqueEmail("org"),
		Password: "secret123",
		OrgName:  "Helping Hands",
	})
	require.NoError(t, err)
	if status != model.ModerationPending {
		_, err = e.SetOrganizationModeration(context.Background(), admin, u.ID, status)
		require.NoError(t, err)
	}
	return actorOf(u)
}

func seedOpportunity(t *testing.T, e *Engine, admin, org Actor, status model.OpportunityStatus) *model.Opportunity {
	t.Helper()
	opp, err := e.CreateOpportunity(context.Background(), org, OpportunityInput{
		Title:                 "Beach cleanup",
		Description:           "Help us clean the beach",
		Requirements:          []string{"Gloves", "Water"},
		Location:              "Santa Monica",
		Type:                  model.TypeOnsite,
		AccessibilityFeatures: []string{"Wheelchair access"},
		Skills:                []string{"Teamwork"},
	})
	require.NoError(t, err)
	if status != model.OpportunityPending {
		opp, err = e.TransitionOpportunity(context.Background(), admin, opp.ID, status)
		require.NoError(t, err)
	}
	return opp
}

func storedCount(t *testing.T, e *Engine, oppID uint) int {
	t.Helper()
	var opp model.Opportunity
	require.NoError(t, e.db.First(&opp, oppID).Error)
	return opp.ApplicationCount
}

func liveCount(t *testing.T, e *Engine, oppID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.Application{}).Where("opportunity_id = ?", oppID).Count(&n).Error)
	return n
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{unauthorized("x"), KindUnauthorized},
		{forbidden("x"), KindForbidden},
		{fmt.Errorf("wrap: %w", fmt.Errorf("%w: opportunity 1", ErrNotFound)), KindNotFound},
		{conflict("x"), KindConflict},
		{badRequest("x"), KindBadRequest},
		{errors.New("disk full"), KindInternal},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, KindOf(tc.err), "err=%v", tc.err)
	}
}

func TestRegister_AdminAlwaysForbidden(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	inputs := []RegisterInput{
		{Role: model.RoleAdmin, Email: "root@example.com", Password: "secret123"},
		{Role: model.RoleAdmin},
		{Role: model.RoleAdmin, Email: "not-an-email", Password: "1"},
	}
	for _, in := range inputs {
		_, err := e.Register(ctx, in)
		require.ErrorIs(t, err, ErrForbidden)
	}

	var n int64
	require.NoError(t, e.db.Model(&model.User{}).Count(&n).Error)
	require.Zero(t, n)
}

func TestRegister_Validation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Register(ctx, RegisterInput{Role: "superuser", Email: "a@example.com", Password: "secret123"})
	require.ErrorIs(t, err, ErrBadRequest)

	_, err = e.Register(ctx, RegisterInput{Role: model.RoleVolunteer, Email: "a@example.com", Password: "123"})
	require.ErrorIs(t, err, ErrBadRequest)

	_, err = e.Register(ctx, RegisterInput{Role: model.RoleOrganization, Email: "org@example.com", Password: "secret123"})
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestRegister_DuplicateEmailIsCaseInsensitive(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	u, err := e.Register(ctx, RegisterInput{Role: model.RoleVolunteer, Email: " Jane@Example.com ", Password: "secret123"})
	require.NoError(t, err)
	require.Equal(t, "jane@example.com", u.Email)

	_, err = e.Register(ctx, RegisterInput{Role: model.RoleOrganization, Email: "JANE@example.com", Password: "secret123", OrgName: "X"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestRegister_OrganizationStartsPending(t *testing.T) {
	e, _ := newTestEngine(t)
	u, err := e.Register(context.Background(), RegisterInput{
		Role:     model.RoleOrganization,
		Email:    uniqueEmail("org"),
		Password: "secret123",
		OrgName:  "Food Bank",
		Skills:   []string{"ignored for organizations"},
	})
	require.NoError(t, err)
	require.False(t, u.Verified)
	require.False(t, u.Rejected)
	require.Equal(t, model.ModerationPending, u.Moderation())
	require.Empty(t, u.Skills)
}

func TestAuthenticate(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	vol := seedVolunteer(t, e)

	u, err := e.Authenticate(ctx, vol.Email, "secret123")
	require.NoError(t, err)
	require.Equal(t, vol.UserID, u.ID)

	_, err = e.Authenticate(ctx, vol.Email, "wrong-password")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = e.Authenticate(ctx, "nobody@example.com", "secret123")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestBootstrapAdmin(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	first, created, err := e.BootstrapAdmin(ctx, "Root@Example.com", "secret123", "Root")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, model.RoleAdmin, first.Role)

	again, created, err := e.BootstrapAdmin(ctx, "root@example.com", "other-pass", "")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)

	vol := seedVolunteer(t, e)
	_, _, err = e.BootstrapAdmin(ctx, vol.Email, "secret123", "")
	require.ErrorIs(t, err, ErrConflict)
}

func TestSetOrganizationModeration(t *testing.T) {
	e, rec := newTestEngine(t)
	ctx := context.Background()
	admin := seedAdmin(t, e)
	org := seedOrganization(t, e, admin, model.ModerationPending)
	vol := seedVolunteer(t, e)

	_, err := e.SetOrganizationModeration(ctx, vol, org.UserID, model.ModerationVerified)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = e.SetOrganizationModeration(ctx, Anonymous(), org.UserID, model.ModerationVerified)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = e.SetOrganizationModeration(ctx, admin, vol.UserID, model.ModerationVerified)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = e.SetOrganizationModeration(ctx, admin, 9999, model.ModerationVerified)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = e.SetOrganizationFlags(ctx, admin, org.UserID, true, true)
	require.ErrorIs(t, err, ErrBadRequest)

	u, err := e.SetOrganizationFlags(ctx, admin, org.UserID, true, false)
	require.NoError(t, err)
	require.True(t, u.Verified)
	require.False(t, u.Rejected)

	u, err = e.SetOrganizationModeration(ctx, admin, org.UserID, model.ModerationRejected)
	require.NoError(t, err)
	require.False(t, u.Verified)
	require.True(t, u.Rejected)

	// 重复设置同一状态结果不变
	u, err = e.SetOrganizationModeration(ctx, admin, org.UserID, model.ModerationRejected)
	require.NoError(t, err)
	require.Equal(t, model.ModerationRejected, u.Moderation())

	u, err = e.SetOrganizationFlags(ctx, admin, org.UserID, false, false)
	require.NoError(t, err)
	require.Equal(t, model.ModerationPending, u.Moderation())

	var stored model.User
	require.NoError(t, e.db.First(&stored, org.UserID).Error)
	require.False(t, stored.Verified && stored.Rejected)
	require.Equal(t, model.ModerationPending, stored.Moderation())

	// verified、rejected 各通知一次，重复与回到 pending 不通知
	require.Len(t, rec.messages(), 2)
}

func TestUpdateProfile(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	admin := seedAdmin(t, e)
	vol := seedVolunteer(t, e)
	org := seedOrganization(t, e, admin, model.ModerationVerified)

	skills := []string{"Cooking", " cooking ", "Driving"}
	name := "Jane"
	u, err := e.UpdateProfile(ctx, vol, ProfilePatch{Name: &name, Skills: &skills})
	require.NoError(t, err)
	require.Equal(t, "Jane", u.Name)
	require.Equal(t, []string{"Cooking", "Driving"}, []string(u.Skills))

	orgName := "New name"
	_, err = e.UpdateProfile(ctx, vol, ProfilePatch{OrgName: &orgName})
	require.ErrorIs(t, err, ErrBadRequest)

	_, err = e.UpdateProfile(ctx, org, ProfilePatch{Skills: &skills})
	require.ErrorIs(t, err, ErrBadRequest)

	u, err = e.UpdateProfile(ctx, org, ProfilePatch{OrgName: &orgName})
	require.NoError(t, err)
	require.Equal(t, "New name", u.OrgName)
	require.True(t, u.Verified)
}

func TestListUsersAndOrganizations(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	admin := seedAdmin(t, e)
	vol := seedVolunteer(t, e)
	seedOrganization(t, e, admin, model.ModerationPending)
	verified := seedOrganization(t, e, admin, model.ModerationVerified)
	seedOrganization(t, e, admin, model.ModerationRejected)

	_, err := e.ListUsers(ctx, vol, UserFilter{})
	require.ErrorIs(t, err, ErrForbidden)

	users, err := e.ListUsers(ctx, admin, UserFilter{Role: model.RoleOrganization})
	require.NoError(t, err)
	require.Len(t, users, 3)

	orgs, err := e.ListOrganizations(ctx, admin, model.ModerationVerified, Page{})
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	require.Equal(t, verified.UserID, orgs[0].ID)

	_, err = e.ListOrganizations(ctx, admin, "maybe", Page{})
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestGetAccount(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	admin := seedAdmin(t, e)
	vol := seedVolunteer(t, e)
	other := seedVolunteer(t, e)

	u, err := e.GetAccount(ctx, vol, vol.UserID)
	require.NoError(t, err)
	require.Equal(t, vol.Email, u.Email)

	_, err = e.GetAccount(ctx, other, vol.UserID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = e.GetAccount(ctx, admin, 4242)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAccount_CascadesOrganization(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	admin := seedAdmin(t, e)
	org := seedOrganization(t, e, admin, model.ModerationVerified)
	vol := seedVolunteer(t, e)
	opp := seedOpportunity(t, e, admin, org, model.OpportunityApproved)

	_, err := e.Apply(ctx, vol, opp.ID, "hi")
	require.NoError(t, err)
	_, err = e.ToggleLike(ctx, vol, opp.ID)
	require.NoError(t, err)
	_, err = e.AddComment(ctx, vol, opp.ID, "looks great")
	require.NoError(t, err)

	require.ErrorIs(t, e.DeleteAccount(ctx, vol, org.UserID), ErrForbidden)
	require.ErrorIs(t, e.DeleteAccount(ctx, admin, admin.UserID), ErrForbidden)
	require.ErrorIs(t, e.DeleteAccount(ctx, admin, 9999), ErrNotFound)

	require.NoError(t, e.DeleteAccount(ctx, admin, org.UserID))

	opps, err := e.ListOpportunities(ctx, admin, OpportunityFilter{OrganizationID: org.UserID})
	require.NoError(t, err)
	require.Empty(t, opps)

	for _, m := range []any{&model.Application{}, &model.Like{}, &model.Comment{}} {
		var n int64
		require.NoError(t, e.db.Model(m).Where("opportunity_id = ?", opp.ID).Count(&n).Error)
		require.Zero(t, n, "%T still references deleted opportunity", m)
	}

	_, err = e.GetAccount(ctx, admin, vol.UserID)
	require.NoError(t, err, "volunteer must survive the organization deletion")
}

func TestDeleteAccount_VolunteerRecomputesCounts(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	admin := seedAdmin(t, e)
	org := seedOrganization(t, e, admin, model.ModerationVerified)
	vol := seedVolunteer(t, e)
	other := seedVolunteer(t, e)
	opp := seedOpportunity(t, e, admin, org, model.OpportunityApproved)

	_, err := e.Apply(ctx, vol, opp.ID, "")
	require.NoError(t, err)
	_, err = e.Apply(ctx, other, opp.ID, "")
	require.NoError(t, err)
	_, err = e.ToggleLike(ctx, vol, opp.ID)
	require.NoError(t, err)
	require.Equal(t, 2, storedCount(t, e, opp.ID))

	require.NoError(t, e.DeleteAccount(ctx, admin, vol.UserID))

	require.Equal(t, 1, storedCount(t, e, opp.ID))
	require.EqualValues(t, 1, liveCount(t, e, opp.ID))
	state, err := e.LikeStatus(ctx, Anonymous(), opp.ID)
	require.NoError(t, err)
	require.Zero(t, state.Likes)
}
