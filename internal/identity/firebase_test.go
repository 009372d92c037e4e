package identity

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabian4819/Kedaireka-Backend/internal/domain"
)

type fakeClient struct {
	created   *auth.UserToCreate
	record    *auth.UserRecord
	token     *auth.Token
	link      string
	deleted   []string
	updated   []string
	createErr error
	getErr    error
	verifyErr error
	linkErr   error
}

func (f *fakeClient) CreateUser(_ context.Context, user *auth.UserToCreate) (*auth.UserRecord, error) {
	f.created = user
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.record, nil
}

func (f *fakeClient) GetUser(_ context.Context, uid string) (*auth.UserRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.record, nil
}

func (f *fakeClient) VerifyIDToken(_ context.Context, _ string) (*auth.Token, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.token, nil
}

func (f *fakeClient) EmailVerificationLink(_ context.Context, _ string) (string, error) {
	return f.link, f.linkErr
}

func (f *fakeClient) DeleteUser(_ context.Context, uid string) error {
	f.deleted = append(f.deleted, uid)
	return nil
}

func (f *fakeClient) UpdateUser(_ context.Context, uid string, _ *auth.UserToUpdate) (*auth.UserRecord, error) {
	f.updated = append(f.updated, uid)
	return f.record, nil
}

func googleRecord() *auth.UserRecord {
	return &auth.UserRecord{
		UserInfo: &auth.UserInfo{
			UID:         "g-1",
			Email:       "Ada@Example.com",
			DisplayName: "Ada",
			PhotoURL:    "https://p/ada.png",
		},
		EmailVerified:    true,
		ProviderUserInfo: []*auth.UserInfo{{ProviderID: "google.com"}},
		UserMetadata:     &auth.UserMetadata{CreationTimestamp: 1000, LastLogInTimestamp: 2000},
	}
}

func TestCreateIdentity(t *testing.T) {
	fc := &fakeClient{record: &auth.UserRecord{UserInfo: &auth.UserInfo{UID: "u-1"}}}
	fb := &Firebase{client: fc}

	id, err := fb.CreateIdentity(context.Background(), "ada@example.com", "secret1", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "u-1", id)
	assert.NotNil(t, fc.created)
}

func TestCreateIdentityUpstreamFailure(t *testing.T) {
	fb := &Firebase{client: &fakeClient{createErr: errors.New("boom")}}

	_, err := fb.CreateIdentity(context.Background(), "ada@example.com", "secret1", "Ada")
	assert.ErrorIs(t, err, domain.ErrUpstreamIdentity)
}

func TestVerifyAssertion(t *testing.T) {
	fc := &fakeClient{
		record: googleRecord(),
		token:  &auth.Token{UID: "g-1", Firebase: auth.FirebaseInfo{SignInProvider: "google.com"}},
	}
	fb := &Firebase{client: fc}

	p, err := fb.VerifyAssertion(context.Background(), "id-token")
	require.NoError(t, err)
	assert.Equal(t, "g-1", p.ID)
	assert.Equal(t, "ada@example.com", p.Email)
	assert.Equal(t, "Ada", p.DisplayName)
	assert.True(t, p.EmailVerified)
	assert.Equal(t, domain.AuthProviderGoogle, p.Provider)
	require.NotNil(t, p.PhotoURL)
	assert.Equal(t, "https://p/ada.png", *p.PhotoURL)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(p.Metadata, &meta))
	assert.Equal(t, "g-1", meta["uid"])
	assert.Equal(t, "google", meta["authProvider"])
	assert.EqualValues(t, 2000, meta["lastSignInTime"])
}

func TestVerifyAssertionRejected(t *testing.T) {
	fb := &Firebase{client: &fakeClient{verifyErr: errors.New("expired")}}

	_, err := fb.VerifyAssertion(context.Background(), "bad")
	assert.ErrorIs(t, err, domain.ErrInvalidAssertion)
	assert.NotErrorIs(t, err, domain.ErrUpstreamIdentity)
}

func TestGetIdentityUpstreamFailure(t *testing.T) {
	fb := &Firebase{client: &fakeClient{getErr: errors.New("unavailable")}}

	_, err := fb.GetIdentity(context.Background(), "u-1")
	assert.ErrorIs(t, err, domain.ErrUpstreamIdentity)
}

func TestVerificationLink(t *testing.T) {
	fb := &Firebase{client: &fakeClient{link: "https://verify"}}
	link, err := fb.VerificationLink(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://verify", link)

	fb = &Firebase{client: &fakeClient{linkErr: errors.New("quota")}}
	_, err = fb.VerificationLink(context.Background(), "ada@example.com")
	assert.ErrorIs(t, err, domain.ErrUpstreamIdentity)
}

func TestDeleteAndUpdate(t *testing.T) {
	fc := &fakeClient{record: googleRecord()}
	fb := &Firebase{client: fc}

	require.NoError(t, fb.DeleteIdentity(context.Background(), "u-1"))
	require.NoError(t, fb.UpdatePassword(context.Background(), "u-2", "newpass"))
	assert.Equal(t, []string{"u-1"}, fc.deleted)
	assert.Equal(t, []string{"u-2"}, fc.updated)
}

func TestToProfileEmptyRecord(t *testing.T) {
	_, err := toProfile(&auth.UserRecord{}, "")
	assert.ErrorIs(t, err, domain.ErrUpstreamIdentity)
}

func TestProviderFor(t *testing.T) {
	tests := []struct {
		in   string
		want domain.AuthProvider
	}{
		{"google.com", domain.AuthProviderGoogle},
		{"apple.com", domain.AuthProviderApple},
		{"password", domain.AuthProviderEmail},
		{"", domain.AuthProviderGoogle},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, providerFor(tt.in))
		})
	}
}
