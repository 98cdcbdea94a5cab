/*
 * Copyright 2025 chstack.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONObjectValue(t *testing.T) {
	var none JSONObject
	v, err := none.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	obj := JSONObject{"kind": "click", "count": 3}
	v, err = obj.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"click","count":3}`, string(v.([]byte)))
}

func TestJSONObjectScan(t *testing.T) {
	var obj JSONObject
	require.NoError(t, obj.Scan(`{"kind":"view","ok":true}`))
	assert.Equal(t, JSONObject{"kind": "view", "ok": true}, obj)

	obj = nil
	require.NoError(t, obj.Scan([]byte(`{"n":1.5}`)))
	assert.Equal(t, JSONObject{"n": 1.5}, obj)

	obj = nil
	require.NoError(t, obj.Scan(nil))
	require.NotNil(t, obj)
	assert.Empty(t, obj)

	err := obj.Scan(42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot scan int into JSONObject")
}

func TestJSONArrayValue(t *testing.T) {
	var none JSONArray
	v, err := none.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	arr := JSONArray{{"a": 1}, {"b": 2}}
	v, err = arr.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"a":1},{"b":2}]`, string(v.([]byte)))
}

func TestJSONArrayScan(t *testing.T) {
	var arr JSONArray
	require.NoError(t, arr.Scan(`[{"kind":"click"},{"kind":"view"}]`))
	require.Len(t, arr, 2)
	assert.Equal(t, "click", arr[0]["kind"])
	assert.Equal(t, "view", arr[1]["kind"])

	arr = nil
	require.NoError(t, arr.Scan([]byte(`[]`)))
	assert.Empty(t, arr)

	arr = nil
	require.NoError(t, arr.Scan(nil))
	require.NotNil(t, arr)
	assert.Empty(t, arr)

	err := arr.Scan(3.14)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot scan float64 into JSONArray")
}
