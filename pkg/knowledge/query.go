// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package knowledge

import (
	"regexp"
	"strings"
)

var wordRE = regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)

// MatchQuery finds the entities a natural-language query refers to by name.
// Matching is case-insensitive on the unqualified name, with a crude
// singular/plural fold so "orders" finds a table named "order" and vice
// versa. Returns seed ids plus the matched set for extraction priority.
func (g *Graph) MatchQuery(query string) ([]string, map[string]bool) {
	words := map[string]bool{}
	for _, w := range wordRE.FindAllString(strings.ToLower(query), -1) {
		words[w] = true
		if strings.HasSuffix(w, "s") {
			words[strings.TrimSuffix(w, "s")] = true
		} else {
			words[w+"s"] = true
		}
	}

	var seeds []string
	matched := map[string]bool{}
	for _, e := range g.Entities() {
		name := strings.ToLower(e.BaseName())
		if words[name] {
			seeds = append(seeds, e.ID)
			matched[e.ID] = true
		}
	}
	return seeds, matched
}
