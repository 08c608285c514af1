// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package record

import "fmt"

// TickKey derives the idempotency key for a tick. The same tick always maps
// to the same key, so a redelivered tick is detected regardless of which
// consumer sees it.
func TickKey(t Tick) string {
	return fmt.Sprintf("%s:%d", t.RunID, t.Seq)
}

// BatchKey builds the deterministic storage key for a tick batch. Sequence
// numbers are zero-padded to 20 digits so lexical order matches numeric
// order for the full uint64 range.
func BatchKey(runID string, startSeq, endSeq uint64) string {
	return fmt.Sprintf("%s/batch_%020d_%020d.pb", runID, startSeq, endSeq)
}

// MetadataKey builds the deterministic storage key for run metadata.
func MetadataKey(runID string) string {
	return fmt.Sprintf("%s/metadata.pb", runID)
}
