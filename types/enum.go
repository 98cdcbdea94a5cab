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
	"strconv"
	"strings"
)

// Common illegal/default values used by enums.
const (
	IllegalValue = -1
	IllegalName  = "unknown"
	IllegalDesc  = "unknown"
)

// BaseEnum is the contract for domain enums mapped to Enum8/Enum16 columns.
// Number carries the wire value and Name the declared enum member name.
type BaseEnum interface {
	IsValid() bool
	Number() int
	String() string
	Desc() string
	Name() string
}

var enumNameEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// EnumType renders the ClickHouse column type for the given members, in
// declaration order: Enum8('queued' = 1, 'done' = 2). Members outside the
// Enum8 value range widen the type to Enum16. An empty member list degrades
// to String, like unparseable type text elsewhere.
func EnumType(members ...BaseEnum) string {
	if len(members) == 0 {
		return "String"
	}
	name := "Enum8"
	for _, m := range members {
		if m.Number() < -128 || m.Number() > 127 {
			name = "Enum16"
			break
		}
	}
	pairs := make([]string, len(members))
	for i, m := range members {
		pairs[i] = "'" + enumNameEscaper.Replace(m.Name()) + "' = " + strconv.Itoa(m.Number())
	}
	return name + "(" + strings.Join(pairs, ", ") + ")"
}
