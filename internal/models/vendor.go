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

package models

import "time"

// Category groups vendors on the dashboard.
type Category string

const (
	CategoryCloud         Category = "Cloud"
	CategoryCICD          Category = "CI/CD"
	CategoryMonitoring    Category = "Monitoring"
	CategoryAIML          Category = "AI/ML"
	CategoryDatabases     Category = "Databases"
	CategoryProductivity  Category = "Productivity"
	CategoryDevTools      Category = "Dev Tools"
	CategoryAuthInfra     Category = "Auth/Infra"
	CategoryCommunication Category = "Communication"
	CategoryDesign        Category = "Design"
	CategoryAnalytics     Category = "Analytics"
	CategorySecurity      Category = "Security"

	// CategoryOther is never shown in spend views and never matched by
	// the ingestion pipeline.
	CategoryOther Category = "Other"
)

// Vendor is a curated catalog entry.
type Vendor struct {
	ID            string
	Name          string
	Slug          string
	Category      Category
	EmailPatterns []string
	CreatedAt     time.Time
}

// UserVendorLink records that a user is tracking a vendor.
type UserVendorLink struct {
	ID       string
	UserID   string
	VendorID string
	IsActive bool
	AddedAt  time.Time
}
