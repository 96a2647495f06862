package dto

import "fintrack/internal/core"

type CategoryDTO struct {
	ID        *string `json:"_id,omitempty"`
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Icon      string  `json:"icon"`
	Color     *string `json:"color"`
	IsDefault bool    `json:"isDefault"`
}

func CategoryToDTO(c core.Category) CategoryDTO {
	color := core.NormalizeColor(c.Color)
	d := CategoryDTO{
		Name:      c.Name,
		Type:      string(core.Expense),
		Icon:      c.Icon,
		Color:     &color,
		IsDefault: !c.IsCustom,
	}
	if c.ServerID != "" {
		id := c.ServerID
		d.ID = &id
	}
	return d
}

func CategoryFromDTO(d CategoryDTO, userID string) core.Category {
	c := core.Category{
		Name:     d.Name,
		Icon:     d.Icon,
		Color:    core.DefaultCategoryColor,
		IsCustom: !d.IsDefault,
		UserID:   userID,
	}
	if d.Color != nil {
		c.Color = core.NormalizeColor(*d.Color)
	}
	if d.ID != nil {
		c.ServerID = *d.ID
	}
	return c
}

// CategoryMaps builds the local id <-> server id lookups used when mapping
// transactions and budgets. Categories without a server id are left out.
func CategoryMaps(categories []core.Category) (toServer map[int64]string, toLocal map[string]int64) {
	toServer = make(map[int64]string, len(categories))
	toLocal = make(map[string]int64, len(categories))
	for _, c := range categories {
		if c.ServerID == "" {
			continue
		}
		toServer[c.ID] = c.ServerID
		toLocal[c.ServerID] = c.ID
	}
	return toServer, toLocal
}
