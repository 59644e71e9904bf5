package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/nao1215/tenantdesk/pkg/event"
)

// Recipient は通知の受信者。
type Recipient struct {
	UserID   string `json:"id"`
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
}

// input はRecipient宛ての通知入力を組み立てる。
func (r Recipient) input(t Type, cat Category, p Priority, title, message string) Input {
	return Input{
		UserID:   r.UserID,
		TenantID: r.TenantID,
		Email:    r.Email,
		Name:     r.Name,
		Type:     t,
		Category: cat,
		Priority: p,
		Title:    title,
		Message:  message,
	}
}

// reservationDate は予約日時を"日/月/年 à 時:分"形式で返す。
func reservationDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02/01/2006 à 15:04")
}

// NewReservation は新規予約の通知。
func NewReservation(r Recipient, d event.AppointmentData, loc *time.Location) Input {
	in := r.input(TypeInfo, CategoryReservation, PriorityHigh, "Nouvelle réservation",
		fmt.Sprintf("%s a réservé un créneau pour le %s", d.ClientName, reservationDate(d.StartTime, loc)))
	in.ActionURL = "/admin/reservations"
	in.ActionLabel = "Voir la réservation"
	in.Metadata = map[string]any{"appointment_id": d.AppointmentID, "source": d.Source}
	return in
}

// ReservationConfirmed は予約確定の通知。
func ReservationConfirmed(r Recipient, d event.AppointmentData) Input {
	in := r.input(TypeSuccess, CategoryReservation, PriorityMedium, "Réservation confirmée",
		fmt.Sprintf("La réservation de %s a été confirmée", d.ClientName))
	in.ActionURL = "/admin/reservations"
	in.ActionLabel = "Voir les détails"
	in.Metadata = map[string]any{"appointment_id": d.AppointmentID}
	return in
}

// ReservationCancelled は予約キャンセルの通知。
func ReservationCancelled(r Recipient, d event.AppointmentData) Input {
	in := r.input(TypeWarning, CategoryReservation, PriorityHigh, "Réservation annulée",
		fmt.Sprintf("%s a annulé sa réservation", d.ClientName))
	in.ActionURL = "/admin/reservations"
	in.ActionLabel = "Voir les détails"
	in.Metadata = map[string]any{"appointment_id": d.AppointmentID}
	return in
}

// NewClient は顧客登録の通知。
func NewClient(r Recipient, d event.ClientData) Input {
	in := r.input(TypeSuccess, CategoryClient, PriorityMedium, "Nouveau client",
		fmt.Sprintf("%s a été ajouté à la base clients", d.FullName()))
	in.ActionURL = "/admin/clients"
	in.ActionLabel = "Voir le client"
	in.Metadata = map[string]any{"client_id": d.ClientID}
	return in
}

// ClientUpdated は顧客情報更新の通知。
func ClientUpdated(r Recipient, d event.ClientData) Input {
	in := r.input(TypeInfo, CategoryClient, PriorityLow, "Client mis à jour",
		fmt.Sprintf("Les informations de %s ont été modifiées", d.FullName()))
	in.ActionURL = "/admin/clients"
	in.ActionLabel = "Voir le client"
	in.Metadata = map[string]any{"client_id": d.ClientID}
	return in
}

// SEOAlert はSEO分析の警告通知。優先度は呼び出し元が決める。
func SEOAlert(r Recipient, message string, p Priority) Input {
	in := r.input(TypeWarning, CategorySEO, p, "Alerte SEO", message)
	in.ActionURL = "/admin/seo/analysis"
	in.ActionLabel = "Voir l'analyse"
	return in
}

// PageSEOAlert は公開ページで検出したSEO上の問題の通知。
func PageSEOAlert(r Recipient, d event.ContentPageData) Input {
	msg := fmt.Sprintf("La page %q présente des problèmes SEO : %s", d.Title, strings.Join(d.Warnings, ", "))
	in := SEOAlert(r, msg, PriorityMedium)
	in.Metadata = map[string]any{"slug": d.Slug, "warnings": d.Warnings}
	return in
}

// ContentPublished はページ公開の通知。
func ContentPublished(r Recipient, title, slug string) Input {
	in := r.input(TypeSuccess, CategoryContent, PriorityLow, "Contenu publié",
		fmt.Sprintf("La page %q a été publiée avec succès", title))
	in.ActionURL = "/admin/content/edit/" + slug
	in.ActionLabel = "Voir la page"
	in.Metadata = map[string]any{"slug": slug}
	return in
}

// TenantWelcome はテナント開設時の歓迎通知。
func TenantWelcome(r Recipient, d event.TenantCreatedData) Input {
	in := r.input(TypeInfo, CategorySystem, PriorityMedium, "Bienvenue sur TenantDesk",
		fmt.Sprintf("Votre espace %q est prêt. Commencez par configurer votre site.", d.Name))
	in.ActionURL = "/admin/dashboard"
	in.ActionLabel = "Accéder au tableau de bord"
	in.Metadata = map[string]any{"slug": d.Slug}
	return in
}

// TestNotification は通知設定の確認用に自分宛てに送る通知。
func TestNotification(r Recipient) Input {
	in := r.input(TypeInfo, CategorySystem, PriorityMedium, "🧪 Notification de test",
		"Ceci est une notification de test. Si vous la voyez, les notifications fonctionnent.")
	in.ActionURL = "/admin/dashboard"
	return in
}
