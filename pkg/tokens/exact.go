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
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// ExactCounter counts tokens with tiktoken cl100k_base encoding
// (GPT-4/Claude compatible approximation). Falls back to the ratio
// estimator when the encoding cannot be loaded.
type ExactCounter struct {
	encoder  *tiktoken.Tiktoken
	fallback *Estimator
	mu       sync.Mutex
}

var (
	globalExactCounter *ExactCounter
	counterInitOnce    sync.Once
)

// GetExactCounter returns a singleton exact counter instance.
func GetExactCounter() *ExactCounter {
	counterInitOnce.Do(func() {
		c := &ExactCounter{fallback: NewEstimator()}
		if tkm, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			c.encoder = tkm
		}
		globalExactCounter = c
	})
	return globalExactCounter
}

// Count returns the token count for text.
func (c *ExactCounter) Count(text string) int {
	if c.encoder == nil {
		return c.fallback.Estimate(text)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.encoder.Encode(text, nil, nil))
}
