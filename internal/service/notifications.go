package service

import (
	"fmt"

	"github.com/ultima-training/ultima-api/internal/models"
)

// Outbox message builders. Bodies are deliberately plain HTML; layout and
// branding belong to the mail templates of the frontend, not the API.

func registrationNotification(d *models.EnrollmentDetail) *models.Notification {
	return &models.Notification{
		Kind:           models.NotificationEnrollmentRegistered,
		RecipientEmail: d.StudentEmail,
		Subject:        fmt.Sprintf("Registration received for %s", d.CourseName),
		Body: fmt.Sprintf("<p>Hi %s,</p><p>We received your registration for <strong>%s</strong>.</p><p>Your tracking number is <strong>%s</strong>. Keep it for payment follow-up.</p>",
			d.StudentName, d.CourseName, d.TrackingNumber),
	}
}

func approvalNotification(d *models.EnrollmentDetail) *models.Notification {
	return &models.Notification{
		Kind:           models.NotificationEnrollmentApproved,
		RecipientEmail: d.StudentEmail,
		Subject:        fmt.Sprintf("You are enrolled in %s", d.CourseName),
		Body: fmt.Sprintf("<p>Hi %s,</p><p>Your enrollment in <strong>%s</strong> is confirmed. The session starts on %s.</p>",
			d.StudentName, d.CourseName, d.StartDatetime.Format("January 2, 2006 15:04 MST")),
	}
}

func rejectionNotification(d *models.EnrollmentDetail, reason string) *models.Notification {
	return &models.Notification{
		Kind:           models.NotificationEnrollmentRejected,
		RecipientEmail: d.StudentEmail,
		Subject:        fmt.Sprintf("Registration for %s was not approved", d.CourseName),
		Body: fmt.Sprintf("<p>Hi %s,</p><p>Your registration for <strong>%s</strong> was not approved.</p><p>Reason: %s</p>",
			d.StudentName, d.CourseName, reason),
	}
}

func cancellationNotification(d *models.EnrollmentDetail) *models.Notification {
	return &models.Notification{
		Kind:           models.NotificationEnrollmentCancelled,
		RecipientEmail: d.StudentEmail,
		Subject:        fmt.Sprintf("Enrollment in %s cancelled", d.CourseName),
		Body: fmt.Sprintf("<p>Hi %s,</p><p>Your enrollment in <strong>%s</strong> has been cancelled.</p>",
			d.StudentName, d.CourseName),
	}
}

func paymentConfirmedNotification(d *models.EnrollmentDetail, amountCents int64, currency string) *models.Notification {
	return &models.Notification{
		Kind:           models.NotificationPaymentConfirmed,
		RecipientEmail: d.StudentEmail,
		Subject:        fmt.Sprintf("Payment confirmed for %s", d.CourseName),
		Body: fmt.Sprintf("<p>Hi %s,</p><p>We received your payment of %d.%02d %s for <strong>%s</strong>. You are now enrolled.</p>",
			d.StudentName, amountCents/100, amountCents%100, currency, d.CourseName),
	}
}

func feedbackRevisionNotification(d *models.FeedbackDetail, comments string) *models.Notification {
	return &models.Notification{
		Kind:           models.NotificationFeedbackRevision,
		RecipientEmail: d.StudentEmail,
		Subject:        fmt.Sprintf("Please revise your review of %s", d.CourseName),
		Body: fmt.Sprintf("<p>Hi %s,</p><p>The instructor asked for changes to your review of <strong>%s</strong>:</p><blockquote>%s</blockquote><p>Please update and resubmit it from your dashboard.</p>",
			d.StudentName, d.CourseName, comments),
	}
}

func certificateNotification(d *models.EnrollmentDetail, certificateNumber string) *models.Notification {
	return &models.Notification{
		Kind:           models.NotificationCertificateIssued,
		RecipientEmail: d.StudentEmail,
		Subject:        fmt.Sprintf("Your certificate for %s is ready", d.CourseName),
		Body: fmt.Sprintf("<p>Hi %s,</p><p>Congratulations on completing <strong>%s</strong>!</p><p>Your certificate number is <strong>%s</strong>. You can download it from your dashboard.</p>",
			d.StudentName, d.CourseName, certificateNumber),
	}
}
