// Package model holds the resource records exchanged with the API and kept in
// the caches. Values are treated as immutable: helpers return modified copies.
package model

import "time"

// Entity is implemented by every record addressed by a server or temp id.
type Entity interface {
	EntityID() string
}

// Recipe is a single recipe as returned by the API.
type Recipe struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Ingredients     []string  `json:"ingredients"`
	Steps           []string  `json:"steps"`
	Servings        int       `json:"servings,omitempty"`
	CookTimeMinutes int       `json:"cookTimeMinutes,omitempty"`
	ImageURL        string    `json:"imageUrl,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (r Recipe) EntityID() string { return r.ID }

// Visibility of a dishlist.
type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

// DishList is a named collection of recipes. Recipes is only populated on the
// detail view; list tabs carry the counts.
type DishList struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Visibility    Visibility `json:"visibility"`
	OwnerID       string     `json:"ownerId"`
	Collaborators []string   `json:"collaborators,omitempty"`
	IsPinned      bool       `json:"isPinned"`
	IsFollowing   bool       `json:"isFollowing"`
	FollowerCount int        `json:"followerCount"`
	RecipeCount   int        `json:"recipeCount"`
	Recipes       []Recipe   `json:"recipes,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (d DishList) EntityID() string { return d.ID }

// Notification is a social notification shown in the inbox.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	ActorName string    `json:"actorName,omitempty"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

func (n Notification) EntityID() string { return n.ID }

// UnreadCount backs the notification badge.
type UnreadCount struct {
	Count int `json:"count"`
}

// GroceryItem is one line of the local grocery list.
type GroceryItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Quantity  string    `json:"quantity,omitempty"`
	Checked   bool      `json:"checked"`
	RecipeID  string    `json:"recipeId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (g GroceryItem) EntityID() string { return g.ID }
