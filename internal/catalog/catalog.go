// Package catalog holds the data-driven content tables: building
// recipes, jobs and shop items. Defaults are compiled in; a YAML file
// can override any table wholesale.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BuildingRecipe defines what a building type costs to construct and
// how it employs workers once active.
type BuildingRecipe struct {
	Type             string             `yaml:"type"`
	Costs            map[string]float64 `yaml:"costs"`
	ConstructionDays int                `yaml:"construction_days"`
	MaxWorkers       int                `yaml:"max_workers"`
}

// JobSeed is a work-site position seeded at startup.
type JobSeed struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	DailyReward int    `yaml:"daily_reward"`
	MaxWorkers  int    `yaml:"max_workers"`
}

// ItemSeed is a storefront catalog entry seeded at startup.
type ItemSeed struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	ItemType    string `yaml:"item_type"`
	Price       int    `yaml:"price"`
}

// Catalog bundles all content tables.
type Catalog struct {
	Buildings []BuildingRecipe `yaml:"buildings"`
	Jobs      []JobSeed        `yaml:"jobs"`
	Items     []ItemSeed       `yaml:"items"`
}

// Default returns the built-in content tables.
func Default() *Catalog {
	return &Catalog{
		Buildings: []BuildingRecipe{
			{
				Type:             "farm",
				Costs:            map[string]float64{"wood": 10, "stone": 5},
				ConstructionDays: 3,
				MaxWorkers:       3,
			},
			{
				Type:             "mill",
				Costs:            map[string]float64{"wood": 15, "stone": 10},
				ConstructionDays: 3,
				MaxWorkers:       2,
			},
			{
				Type:             "gov_farm",
				Costs:            map[string]float64{"wood": 20, "stone": 10},
				ConstructionDays: 5,
				MaxWorkers:       5,
			},
		},
		Jobs: []JobSeed{
			{Title: "street sweeper", Description: "Keep the plaza clean.", DailyReward: 10, MaxWorkers: 0},
			{Title: "courier", Description: "Run parcels across the city.", DailyReward: 15, MaxWorkers: 5},
			{Title: "night watch", Description: "Walk the walls after dark.", DailyReward: 20, MaxWorkers: 2},
		},
		Items: []ItemSeed{
			{Name: "straw hat", Description: "Keeps the sun off.", ItemType: "apparel", Price: 12},
			{Name: "tea set", Description: "For entertaining guests.", ItemType: "furniture", Price: 30},
			{Name: "city map", Description: "Every alley, annotated.", ItemType: "tool", Price: 18},
		},
	}
}

// Load reads a catalog YAML file, falling back to the defaults when
// path is empty or the file does not exist. Tables present in the
// file replace the corresponding default table entirely.
func Load(path string) (*Catalog, error) {
	cat := Default()
	if path == "" {
		return cat, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cat, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var file Catalog
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(file.Buildings) > 0 {
		cat.Buildings = file.Buildings
	}
	if len(file.Jobs) > 0 {
		cat.Jobs = file.Jobs
	}
	if len(file.Items) > 0 {
		cat.Items = file.Items
	}
	return cat, nil
}

// Recipe returns the recipe for a building type, or nil when the type
// is unknown.
func (c *Catalog) Recipe(buildingType string) *BuildingRecipe {
	for i := range c.Buildings {
		if c.Buildings[i].Type == buildingType {
			return &c.Buildings[i]
		}
	}
	return nil
}
