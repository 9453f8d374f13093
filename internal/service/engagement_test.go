package service

import (
	"context"
	"strings"
	"testing"

	"volunteerhub/internal/model"

	"github.com/stretchr/testify/require"
)

func TestToggleLike_IsAnInvolution(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	admin := seedAdmin(t, e)
	org := seedOrganization(t, e, admin, model.ModerationVerified)
	vol := seedVolunteer(t, e)
	other := seedVolunteer(t, e)
	opp := seedOpportunity(t, e, admin, org, model.OpportunityApproved)

	_, err := e.ToggleLike(ctx, other, opp.ID)
	require.NoError(t, err)

	initial, err := e.LikeStatus(ctx, vol, opp.ID)
	require.NoError(t, err)
	require.False(t, initial.Liked)
	require.EqualValues(t, 1, initial.Likes)

	liked, err := e.ToggleLike(ctx, vol, opp.ID)
	require.NoError(t, err)
	require.True(t, liked.Liked)
	require.EqualValues(t, 2, liked.Likes)

	back, err := e.ToggleLike(ctx, vol, opp.ID)
	require.NoError(t, err)
	require.Equal(t, initial, back)

	// 组织与管理员同样可以点赞
	_, err = e.ToggleLike(ctx, org, opp.ID)
	require.NoError(t, err)

	_, err = e.ToggleLike(ctx, Anonymous(), opp.ID)
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = e.ToggleLike(ctx, vol, 31337)
	require.ErrorIs(t, err, ErrNotFound)

	anon, err := e.LikeStatus(ctx, Anonymous(), opp.ID)
	require.NoError(t, err)
	require.False(t, anon.Liked)
	require.EqualValues(t, 2, anon.Likes)
}

func TestAddComment_Rules(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	admin := seedAdmin(t, e)
	org := seedOrganization(t, e, admin, model.ModerationVerified)
	vol := seedVolunteer(t, e)
	opp := seedOpportunity(t, e, admin, org, model.OpportunityApproved)

	_, err := e.AddComment(ctx, org, opp.ID, "hi")
	require.ErrorIs(t, err, ErrForbidden)
	_, err = e.AddComment(ctx, Anonymous(), opp.ID, "hi")
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = e.AddComment(ctx, vol, opp.ID, "   ")
	require.ErrorIs(t, err, ErrBadRequest)
	_, err = e.AddComment(ctx, vol, opp.ID, strings.Repeat("a", model.MaxCommentLength+1))
	require.ErrorIs(t, err, ErrBadRequest)
	_, err = e.AddComment(ctx, vol, 404, "hi")
	require.ErrorIs(t, err, ErrNotFound)

	// 按字符而非字节计数
	c, err := e.AddComment(ctx, vol, opp.ID, strings.Repeat("好", model.MaxCommentLength))
	require.NoError(t, err)
	require.Equal(t, vol.UserID, c.VolunteerID)
}

func TestListComments_NewestFirst(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	admin := seedAdmin(t, e)
	org := seedOrganization(t, e, admin, model.ModerationVerified)
	vol := seedVolunteer(t, e)
	opp := seedOpportunity(t, e, admin, org, model.OpportunityApproved)

	for _, text := range []string{"first", "second", "third"} {
		_, err := e.AddComment(ctx, vol, opp.ID, text)
		require.NoError(t, err)
	}

	comments, err := e.ListComments(ctx, Anonymous(), opp.ID, Page{})
	require.NoError(t, err)
	require.Len(t, comments, 3)
	require.Equal(t, "third", comments[0].Content)
	require.Equal(t, "first", comments[2].Content)

	_, err = e.ListComments(ctx, vol, 404, Page{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEngagement_HiddenOpportunityLooksMissing(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	admin := seedAdmin(t, e)
	org := seedOrganization(t, e, admin, model.ModerationVerified)
	rival := seedOrganization(t, e, admin, model.ModerationVerified)
	vol := seedVolunteer(t, e)
	opp := seedOpportunity(t, e, admin, org, model.OpportunityApproved)

	_, err := e.ToggleLike(ctx, vol, opp.ID)
	require.NoError(t, err)
	_, err = e.AddComment(ctx, vol, opp.ID, "count me in")
	require.NoError(t, err)

	for _, status := range []model.OpportunityStatus{model.OpportunityRejected, model.OpportunityPending} {
		_, err = e.TransitionOpportunity(ctx, admin, opp.ID, status)
		require.NoError(t, err)

		for _, outsider := range []Actor{vol, rival, Anonymous()} {
			_, err = e.LikeStatus(ctx, outsider, opp.ID)
			require.ErrorIs(t, err, ErrNotFound, "like status as %+v", outsider)
			_, err = e.ListComments(ctx, outsider, opp.ID, Page{})
			require.ErrorIs(t, err, ErrNotFound, "comments as %+v", outsider)
		}
		_, err = e.ToggleLike(ctx, vol, opp.ID)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = e.ToggleLike(ctx, rival, opp.ID)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = e.AddComment(ctx, vol, opp.ID, "still there?")
		require.ErrorIs(t, err, ErrNotFound)

		// 所有者与管理员仍然可见
		for _, insider := range []Actor{org, admin} {
			state, err := e.LikeStatus(ctx, insider, opp.ID)
			require.NoError(t, err)
			require.EqualValues(t, 1, state.Likes)
			comments, err := e.ListComments(ctx, insider, opp.ID, Page{})
			require.NoError(t, err)
			require.Len(t, comments, 1)
		}
	}

	liked, err := e.ToggleLike(ctx, org, opp.ID)
	require.NoError(t, err)
	require.True(t, liked.Liked)
}
