package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BillFox/app/models"
	"github.com/ManuelReschke/BillFox/app/repository"
)

type seedUserRepo struct {
	repository.UserRepository
	byEmail map[string]*models.User
	created *models.User
	updated *models.User
}

func (r *seedUserRepo) GetByEmail(email string) (*models.User, error) {
	if u, ok := r.byEmail[email]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *seedUserRepo) Create(user *models.User) error {
	r.created = user
	return nil
}

func (r *seedUserRepo) Update(user *models.User) error {
	r.updated = user
	return nil
}

func TestEnsureAdminAccountCreatesOperator(t *testing.T) {
	t.Setenv("ADMIN_EMAIL", "ops@example.com")
	t.Setenv("ADMIN_PASSWORD", "hunter22")

	repo := &seedUserRepo{byEmail: map[string]*models.User{}}
	require.NoError(t, ensureAdminAccount(repo))

	require.NotNil(t, repo.created)
	assert.Equal(t, models.ROLE_ADMIN, repo.created.Role)
	assert.Equal(t, models.STATUS_ACTIVE, repo.created.Status)
	assert.True(t, repo.created.CheckPassword("hunter22"))
}

func TestEnsureAdminAccountGeneratesOneTimePassword(t *testing.T) {
	t.Setenv("ADMIN_EMAIL", "ops@example.com")
	t.Setenv("ADMIN_PASSWORD", "")

	repo := &seedUserRepo{byEmail: map[string]*models.User{}}
	require.NoError(t, ensureAdminAccount(repo))

	require.NotNil(t, repo.created)
	assert.NotEmpty(t, repo.created.Password)
	assert.False(t, repo.created.CheckPassword(""), "empty password must not verify")
}

func TestEnsureAdminAccountRekeysOnPasswordChange(t *testing.T) {
	t.Setenv("ADMIN_EMAIL", "ops@example.com")
	t.Setenv("ADMIN_PASSWORD", "new-secret")

	existing := &models.User{ID: 1, Email: "ops@example.com", Role: models.ROLE_ADMIN, Status: models.STATUS_ACTIVE}
	require.NoError(t, existing.SetPassword("old-secret"))

	repo := &seedUserRepo{byEmail: map[string]*models.User{"ops@example.com": existing}}
	require.NoError(t, ensureAdminAccount(repo))

	assert.Nil(t, repo.created)
	require.NotNil(t, repo.updated)
	assert.True(t, repo.updated.CheckPassword("new-secret"))
}

func TestEnsureAdminAccountNoOpWithoutEmail(t *testing.T) {
	t.Setenv("ADMIN_EMAIL", "")

	repo := &seedUserRepo{byEmail: map[string]*models.User{}}
	require.NoError(t, ensureAdminAccount(repo))
	assert.Nil(t, repo.created)
	assert.Nil(t, repo.updated)
}
