package postgres

import "github.com/p2plend/client/internal/settings"

var _ settings.Store = (*SettingsRepository)(nil)
