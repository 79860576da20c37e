// Package model defines submissions and the views served to pollers.
package model
