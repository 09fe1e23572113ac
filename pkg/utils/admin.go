package utils

import (
	"tourflow/internal/models"
	"tourflow/pkg/database"
)

// IsAdmin checks if the user with given ID is an admin user
func IsAdmin(userID uint) bool {
	var user models.User
	err := database.DB.First(&user, userID).Error
	if err != nil {
		return false
	}
	return user.Username == "admin"
}

// HasPermissionOnSite checks if user has permission on a site (owner or admin)
func HasPermissionOnSite(userID uint, siteID uint) bool {
	if IsAdmin(userID) {
		return true
	}

	var site models.Site
	err := database.DB.Where("id = ? AND user_id = ? AND status = ?", siteID, userID, 1).First(&site).Error
	return err == nil
}

// HasPermissionOnTour checks if user has permission on a tour (owner, site owner, or admin)
func HasPermissionOnTour(userID uint, tourID uint) bool {
	if IsAdmin(userID) {
		return true
	}

	var tour models.Tour
	err := database.DB.Preload("Site").Where("id = ?", tourID).First(&tour).Error
	if err != nil {
		return false
	}

	return tour.UserID == userID || tour.Site.UserID == userID
}
