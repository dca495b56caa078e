package blobstore

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestDriveErr(t *testing.T) {
	notFound := driveErr("get document", &googleapi.Error{Code: http.StatusNotFound, Message: "File not found"})
	require.ErrorIs(t, notFound, ErrNotFound)

	forbidden := driveErr("upload", &googleapi.Error{
		Code:    http.StatusForbidden,
		Message: "The user does not have sufficient permissions",
		Body:    `{"error":{"code":403}}`,
	})
	var remote *RemoteError
	require.True(t, errors.As(forbidden, &remote))
	require.Equal(t, http.StatusForbidden, remote.Code)
	require.Equal(t, `{"error":{"code":403}}`, remote.Details())
	require.Equal(t, "upload: The user does not have sufficient permissions", forbidden.Error())

	plain := driveErr("upload", errors.New("dial tcp: timeout"))
	require.False(t, errors.As(plain, &remote))
	require.EqualError(t, plain, "upload: dial tcp: timeout")
}

func TestEscapeDriveQuery(t *testing.T) {
	require.Equal(t, `it\'s`, escapeDriveQuery("it's"))
	require.Equal(t, `a\\b`, escapeDriveQuery(`a\b`))
}

func TestDriveDirectLink(t *testing.T) {
	require.Equal(t, "https://lh3.googleusercontent.com/d/abc123=w800", DriveDirectLink("abc123"))
}
