/*
Copyright 2024 Relock Labs Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package request

import (
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToJsonReq(t *testing.T) {
	buf, err := ToJsonReq(map[string]string{"text": "hello"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hello"}`, buf.String())
}

func TestCall(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, "https://example.com/quote",
		httpmock.NewStringResponder(http.StatusOK, `{"price":"0.5"}`))

	req, err := http.NewRequest(http.MethodGet, "https://example.com/quote", nil)
	require.NoError(t, err)

	var response map[string]string
	resp, err := Call(req, &response)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0.5", response["price"])
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
}

func TestCallDecodeFailure(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, "https://example.com/quote",
		httpmock.NewStringResponder(http.StatusOK, `not json`))

	req, err := http.NewRequest(http.MethodGet, "https://example.com/quote", nil)
	require.NoError(t, err)

	var response map[string]string
	_, err = Call(req, &response)
	assert.Error(t, err)
}
