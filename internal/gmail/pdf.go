// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gmail

import (
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// FitzPDF extracts PDF text with MuPDF.
type FitzPDF struct {
	MaxPages int // default 5
}

// ExtractText returns the text of the first MaxPages pages.
func (p FitzPDF) ExtractText(data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	maxPages := p.MaxPages
	if maxPages <= 0 {
		maxPages = 5
	}

	var b strings.Builder
	for i := 0; i < doc.NumPage() && i < maxPages; i++ {
		text, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("read pdf page %d: %w", i, err)
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}
