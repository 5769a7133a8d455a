package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/realtime"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationBookingOffer      NotificationType = "BOOKING_OFFER"
	NotificationBookingTaken      NotificationType = "BOOKING_TAKEN"
	NotificationBookingConfirmed  NotificationType = "BOOKING_CONFIRMED"
	NotificationBookingExpired    NotificationType = "BOOKING_EXPIRED"
	NotificationBookingCancelled  NotificationType = "BOOKING_CANCELLED"
	NotificationDriverAssigned    NotificationType = "DRIVER_ASSIGNED"
	NotificationChooseDriver      NotificationType = "CHOOSE_DRIVER"
	NotificationAutoAssignWarning NotificationType = "AUTO_ASSIGN_WARNING"
	NotificationAutoCancelled     NotificationType = "AUTO_CANCELLED"
	NotificationPickupReminder    NotificationType = "PICKUP_REMINDER"
	NotificationDriverRemoved     NotificationType = "DRIVER_REMOVED"
	NotificationNeedsReplacement  NotificationType = "NEEDS_REPLACEMENT"
	NotificationStopCompleted     NotificationType = "STOP_COMPLETED"
	NotificationTripCompleted     NotificationType = "TRIP_COMPLETED"
)

// Notification represents a notification to be sent.
type Notification struct {
	ID          string
	Type        NotificationType
	RecipientID string // customer or driver ID
	Title       string
	Message     string
	Data        map[string]interface{}
	CreatedAt   time.Time
}

// Broadcaster is the realtime push surface the notification service uses
// when a recipient has a live WebSocket connection. The checkpoint worker
// runs without one.
type Broadcaster interface {
	SendToUser(userID string, env realtime.Envelope) bool
}

// NotificationService delivers notifications. Connected recipients get a
// realtime push; everything is also logged as the stand-in for the push
// provider integration (FCM, SMS).
type NotificationService struct {
	broadcaster Broadcaster // nil in the worker process
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(broadcaster Broadcaster) *NotificationService {
	return &NotificationService{broadcaster: broadcaster}
}

// NotifyBookingOffer pushes a booking offer to one driver, including that
// driver's distance to the pickup point.
func (s *NotificationService) NotifyBookingOffer(ctx context.Context, driverID string, booking *domain.Booking, distanceKm float64) error {
	return s.send(ctx, Notification{
		Type:        NotificationBookingOffer,
		RecipientID: driverID,
		Title:       "New Booking",
		Message:     fmt.Sprintf("Pickup at %s, %.1f km away", booking.Pickup.Address, distanceKm),
		Data: map[string]interface{}{
			"booking_id":    booking.ID,
			"reference":     booking.Reference,
			"pickup":        booking.Pickup,
			"dropoff":       booking.Dropoff,
			"vehicle_class": booking.VehicleClass,
			"load_variant":  booking.LoadVariant,
			"distance_km":   distanceKm,
			"price":         booking.Price,
			"mode":          booking.Mode,
			"pickup_at":     booking.PickupAt,
		},
	})
}

// NotifyBookingTaken tells a driver that a booking they were offered (or
// offered on) went to someone else.
func (s *NotificationService) NotifyBookingTaken(ctx context.Context, driverID, bookingID string) error {
	return s.send(ctx, Notification{
		Type:        NotificationBookingTaken,
		RecipientID: driverID,
		Title:       "Booking Taken",
		Message:     "This booking has been taken by another driver",
		Data:        map[string]interface{}{"booking_id": bookingID},
	})
}

// NotifyBookingConfirmed tells the winning driver the booking is theirs.
func (s *NotificationService) NotifyBookingConfirmed(ctx context.Context, driverID string, booking *domain.Booking) error {
	return s.send(ctx, Notification{
		Type:        NotificationBookingConfirmed,
		RecipientID: driverID,
		Title:       "Booking Confirmed",
		Message:     fmt.Sprintf("Booking %s is yours", booking.Reference),
		Data: map[string]interface{}{
			"booking_id": booking.ID,
			"reference":  booking.Reference,
			"pickup":     booking.Pickup,
			"dropoff":    booking.Dropoff,
			"pickup_at":  booking.PickupAt,
		},
	})
}

// NotifyDriverAssigned tells the customer which driver took their booking.
func (s *NotificationService) NotifyDriverAssigned(ctx context.Context, booking *domain.Booking, driver *domain.Driver) error {
	return s.send(ctx, Notification{
		Type:        NotificationDriverAssigned,
		RecipientID: booking.CustomerID,
		Title:       "Driver Assigned",
		Message:     fmt.Sprintf("%s will handle your booking %s", driver.Name, booking.Reference),
		Data: map[string]interface{}{
			"booking_id":    booking.ID,
			"driver_id":     driver.ID,
			"driver_name":   driver.Name,
			"driver_phone":  driver.Phone,
			"driver_rating": driver.Rating.Average,
		},
	})
}

// NotifyBookingExpired tells the customer their immediate booking found no
// driver in time.
func (s *NotificationService) NotifyBookingExpired(ctx context.Context, booking *domain.Booking) error {
	return s.send(ctx, Notification{
		Type:        NotificationBookingExpired,
		RecipientID: booking.CustomerID,
		Title:       "No Driver Found",
		Message:     fmt.Sprintf("No driver accepted booking %s in time", booking.Reference),
		Data:        map[string]interface{}{"booking_id": booking.ID},
	})
}

// NotifyBookingCancelled tells a driver that a booking was cancelled by the
// customer.
func (s *NotificationService) NotifyBookingCancelled(ctx context.Context, driverID, bookingID string) error {
	return s.send(ctx, Notification{
		Type:        NotificationBookingCancelled,
		RecipientID: driverID,
		Title:       "Booking Cancelled",
		Message:     "The customer cancelled this booking",
		Data:        map[string]interface{}{"booking_id": bookingID},
	})
}

// NotifyChooseDriver reminds the customer to review offers on a scheduled
// booking. hasOffers switches the wording; with no offers there is nothing
// to choose yet.
func (s *NotificationService) NotifyChooseDriver(ctx context.Context, booking *domain.Booking, hasOffers bool) error {
	msg := "Your scheduled booking has no offers yet. We are still looking."
	if hasOffers {
		msg = fmt.Sprintf("You have %d driver offer(s) waiting. Pick one before pickup time.", len(booking.OfferedDrivers))
	}
	return s.send(ctx, Notification{
		Type:        NotificationChooseDriver,
		RecipientID: booking.CustomerID,
		Title:       "Choose Your Driver",
		Message:     msg,
		Data: map[string]interface{}{
			"booking_id":  booking.ID,
			"offer_count": len(booking.OfferedDrivers),
		},
	})
}

// NotifyAutoAssignWarning warns the customer that a driver will be assigned
// automatically if they do not choose.
func (s *NotificationService) NotifyAutoAssignWarning(ctx context.Context, booking *domain.Booking) error {
	return s.send(ctx, Notification{
		Type:        NotificationAutoAssignWarning,
		RecipientID: booking.CustomerID,
		Title:       "Driver Will Be Auto-Assigned",
		Message:     "A driver will be assigned automatically one hour before pickup unless you choose one",
		Data: map[string]interface{}{
			"booking_id":  booking.ID,
			"offer_count": len(booking.OfferedDrivers),
		},
	})
}

// NotifyAutoCancelled tells the customer their scheduled booking was
// cancelled because no driver offered on it.
func (s *NotificationService) NotifyAutoCancelled(ctx context.Context, booking *domain.Booking) error {
	return s.send(ctx, Notification{
		Type:        NotificationAutoCancelled,
		RecipientID: booking.CustomerID,
		Title:       "Booking Cancelled",
		Message:     fmt.Sprintf("No driver offered on booking %s before pickup time", booking.Reference),
		Data:        map[string]interface{}{"booking_id": booking.ID},
	})
}

// NotifyPickupReminder reminds the assigned driver of an upcoming pickup.
func (s *NotificationService) NotifyPickupReminder(ctx context.Context, driverID string, booking *domain.Booking, until time.Duration) error {
	return s.send(ctx, Notification{
		Type:        NotificationPickupReminder,
		RecipientID: driverID,
		Title:       "Upcoming Pickup",
		Message:     fmt.Sprintf("Pickup for %s at %s in about %s", booking.Reference, booking.Pickup.Address, formatUntil(until)),
		Data: map[string]interface{}{
			"booking_id": booking.ID,
			"pickup":     booking.Pickup,
			"pickup_at":  booking.PickupAt,
		},
	})
}

// NotifyDriverRemoved tells a driver they were released from a scheduled
// booking after missing the final reminder window.
func (s *NotificationService) NotifyDriverRemoved(ctx context.Context, driverID, bookingID string) error {
	return s.send(ctx, Notification{
		Type:        NotificationDriverRemoved,
		RecipientID: driverID,
		Title:       "Removed From Booking",
		Message:     "You were removed from this booking shortly before pickup",
		Data:        map[string]interface{}{"booking_id": bookingID},
	})
}

// NotifyNeedsReplacement tells the customer their assigned driver was
// dropped and the booking is open again.
func (s *NotificationService) NotifyNeedsReplacement(ctx context.Context, booking *domain.Booking) error {
	return s.send(ctx, Notification{
		Type:        NotificationNeedsReplacement,
		RecipientID: booking.CustomerID,
		Title:       "Finding a New Driver",
		Message:     fmt.Sprintf("Your driver for %s is unavailable. We are finding a replacement.", booking.Reference),
		Data:        map[string]interface{}{"booking_id": booking.ID},
	})
}

// NotifyStopCompleted tells the customer of a pooled booking that one of
// their stops was completed.
func (s *NotificationService) NotifyStopCompleted(ctx context.Context, customerID, bookingID string, stop domain.Stop) error {
	return s.send(ctx, Notification{
		Type:        NotificationStopCompleted,
		RecipientID: customerID,
		Title:       "Stop Completed",
		Message:     fmt.Sprintf("%s stop at %s completed", stop.Kind, stop.Address),
		Data: map[string]interface{}{
			"booking_id": bookingID,
			"seq":        stop.Seq,
			"kind":       stop.Kind,
		},
	})
}

// NotifyTripCompleted tells a pooled customer their trip is done.
func (s *NotificationService) NotifyTripCompleted(ctx context.Context, customerID, bookingID, tripID string) error {
	return s.send(ctx, Notification{
		Type:        NotificationTripCompleted,
		RecipientID: customerID,
		Title:       "Trip Completed",
		Message:     "Your delivery trip is complete",
		Data: map[string]interface{}{
			"booking_id": bookingID,
			"trip_id":    tripID,
		},
	})
}

// send delivers one notification: realtime push when the recipient is
// connected, log line always.
func (s *NotificationService) send(_ context.Context, n Notification) error {
	n.ID = uuid.New().String()
	n.CreatedAt = time.Now()

	delivered := false
	if s.broadcaster != nil {
		delivered = s.broadcaster.SendToUser(n.RecipientID, realtime.Envelope{
			Type:      string(n.Type),
			Timestamp: n.CreatedAt.UnixMilli(),
			Data: map[string]any{
				"title":   n.Title,
				"message": n.Message,
				"payload": n.Data,
			},
		})
	}

	log.Printf("[NOTIFICATION] type=%s recipient=%s realtime=%t message=%q",
		n.Type, n.RecipientID, delivered, n.Message)
	return nil
}

func formatUntil(d time.Duration) string {
	if d >= time.Hour {
		return fmt.Sprintf("%d hour(s)", int(d.Round(time.Hour).Hours()))
	}
	return fmt.Sprintf("%d minute(s)", int(d.Round(time.Minute).Minutes()))
}
