package response

import (
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appErrors "github.com/charlesng35/liveclass/pkg/errors"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	return c, w
}

func TestListIncludesTotal(t *testing.T) {
	c, w := newContext()

	List(c, []string{"a", "b"})

	require.Equal(t, http.StatusOK, w.Code)
	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.NotNil(t, body.Meta)
	require.Equal(t, 2, body.Meta.Total)
}

func TestListRendersEmptyArray(t *testing.T) {
	c, w := newContext()

	List[string](c, nil)

	require.JSONEq(t, `{"success":true,"data":[],"meta":{"total":0}}`, w.Body.String())
}

func TestErrorUsesAppErrorStatus(t *testing.T) {
	c, w := newContext()

	Error(c, appErrors.ErrConflict)

	require.Equal(t, http.StatusConflict, w.Code)
	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.False(t, body.Success)
	require.Equal(t, "CONFLICT", body.Error.Code)
}

func TestErrorHidesInternalDetails(t *testing.T) {
	c, w := newContext()

	Error(c, stdErrors.New("database exploded"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "exploded")
}
