package menu

import "context"

// MenuOption represents a selectable option shown to the user.
type MenuOption struct {
	Label       string
	Description string
	Handler     func(ctx context.Context) error
	Color       string
	Enabled     bool
}
