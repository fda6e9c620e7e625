package models

// Author of one or more books in the catalog.
type Author struct {
	BaseModel
	Name     string `json:"name"`
	Bio      string `json:"bio"`
	Email    string `json:"email"`
	Website  string `json:"website"`
	ImageURL string `json:"image_url"`
	Books    []Book `json:"books,omitempty"`
}

// Category groups books for browsing.
type Category struct {
	BaseModel
	Name        string `gorm:"uniqueIndex" json:"name"`
	Slug        string `gorm:"uniqueIndex" json:"slug"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
	IsActive    bool   `gorm:"default:true" json:"is_active"`
	Books       []Book `gorm:"many2many:book_categories;" json:"books,omitempty"`
}
