// Package model defines the records exchanged with the backend and the
// client-side views built on them.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Collection names on the hosted backend.
const (
	CollCustomers   = "kunder"
	CollHourLogs    = "log"
	CollProductLogs = "product_logs"
	CollMessages    = "messages"
	CollUsers       = "users"
	CollAssignments = "user_customer_assignments"
	CollProducts    = "products"
)

// User is an account on the backend.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	Admin    bool   `json:"admin,omitempty"`
	Role     string `json:"role,omitempty"`
}

// IsAdmin reports whether the user has the admin flag or the admin role.
func (u User) IsAdmin() bool { return u.Admin || u.Role == "admin" }

// DisplayName picks the first non-empty of name, username, email.
func (u User) DisplayName() string {
	switch {
	case u.Name != "":
		return u.Name
	case u.Username != "":
		return u.Username
	case u.Email != "":
		return u.Email
	}
	return "Unknown User"
}

// Customer is a billable client (collection "kunder").
type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"navn"`
	CVR     string `json:"cvr,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"telefon,omitempty"`
	Address string `json:"adresse,omitempty"`
	Created string `json:"created,omitempty"`
}

// CustomerInput is the writable part of a Customer.
type CustomerInput struct {
	Name    string `json:"navn"`
	CVR     string `json:"cvr,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"telefon,omitempty"`
	Address string `json:"adresse,omitempty"`
}

// CustomerPatch carries only the customer fields an edit changes.
type CustomerPatch struct {
	Name    *string `json:"navn,omitempty"`
	CVR     *string `json:"cvr,omitempty"`
	Email   *string `json:"email,omitempty"`
	Phone   *string `json:"telefon,omitempty"`
	Address *string `json:"adresse,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p CustomerPatch) Empty() bool {
	return p.Name == nil && p.CVR == nil && p.Email == nil && p.Phone == nil && p.Address == nil
}

// HourLog is one registered block of work (collection "log").
type HourLog struct {
	ID       string  `json:"id"`
	Date     string  `json:"dato"`
	Customer string  `json:"kunde"`
	User     string  `json:"user"`
	Start    string  `json:"start,omitempty"`
	End      string  `json:"slut,omitempty"`
	Hours    float64 `json:"totalsum"`
	Price    float64 `json:"price"`
	Comment  string  `json:"kommentar,omitempty"`
	Created  string  `json:"created,omitempty"`
	Expand   struct {
		Customer *Customer `json:"kunde,omitempty"`
		User     *User     `json:"user,omitempty"`
	} `json:"expand"`

	// DecimalHours is derived on load from Start/End, falling back to Hours.
	DecimalHours float64 `json:"-"`
}

// CustomerName returns the expanded customer name or the raw relation id.
func (l HourLog) CustomerName() string {
	if l.Expand.Customer != nil && l.Expand.Customer.Name != "" {
		return l.Expand.Customer.Name
	}
	return l.Customer
}

// UserName returns the expanded user's name or the raw relation id.
func (l HourLog) UserName() string {
	if l.Expand.User != nil && l.Expand.User.Name != "" {
		return l.Expand.User.Name
	}
	return l.User
}

// HourLogInput is the writable part of an HourLog.
type HourLogInput struct {
	Date     string  `json:"dato"`
	Customer string  `json:"kunde"`
	User     string  `json:"user,omitempty"`
	Start    string  `json:"start,omitempty"`
	End      string  `json:"slut,omitempty"`
	Hours    float64 `json:"totalsum"`
	Price    float64 `json:"price"`
	Comment  string  `json:"kommentar,omitempty"`
}

// HourLogPatch carries only the hour log fields an edit changes.
type HourLogPatch struct {
	Date     *string  `json:"dato,omitempty"`
	Customer *string  `json:"kunde,omitempty"`
	Start    *string  `json:"start,omitempty"`
	End      *string  `json:"slut,omitempty"`
	Hours    *float64 `json:"totalsum,omitempty"`
	Price    *float64 `json:"price,omitempty"`
	Comment  *string  `json:"kommentar,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p HourLogPatch) Empty() bool {
	return p.Date == nil && p.Customer == nil && p.Start == nil && p.End == nil &&
		p.Hours == nil && p.Price == nil && p.Comment == nil
}

// Product is a sellable item.
type Product struct {
	ID    string  `json:"id"`
	Name  string  `json:"productName"`
	Price float64 `json:"price"`
}

// ProductLog is one product sale (collection "product_logs").
type ProductLog struct {
	ID         string  `json:"id"`
	Customer   string  `json:"kunder"`
	Product    string  `json:"product"`
	User       string  `json:"user"`
	Quantity   float64 `json:"quantity"`
	TotalPrice float64 `json:"total_price"`
	Created    string  `json:"created,omitempty"`
	Expand     struct {
		Customer *Customer `json:"kunder,omitempty"`
		Product  *Product  `json:"product,omitempty"`
		User     *User     `json:"user,omitempty"`
	} `json:"expand"`
}

func (l ProductLog) CustomerName() string {
	if l.Expand.Customer != nil && l.Expand.Customer.Name != "" {
		return l.Expand.Customer.Name
	}
	return l.Customer
}

func (l ProductLog) ProductName() string {
	if l.Expand.Product != nil && l.Expand.Product.Name != "" {
		return l.Expand.Product.Name
	}
	return l.Product
}

func (l ProductLog) UserName() string {
	if l.Expand.User != nil && l.Expand.User.Name != "" {
		return l.Expand.User.Name
	}
	return l.User
}

// ProductLogInput is the writable part of a ProductLog.
type ProductLogInput struct {
	Customer   string  `json:"kunder"`
	Product    string  `json:"product"`
	User       string  `json:"user,omitempty"`
	Quantity   float64 `json:"quantity"`
	TotalPrice float64 `json:"total_price"`
}

// Message is an internal inbox message.
type Message struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Content   string `json:"content"`
	Read      bool   `json:"read"`
	Archived  bool   `json:"archived"`
	Created   string `json:"created,omitempty"`
	Expand    struct {
		Sender *User `json:"sender,omitempty"`
	} `json:"expand"`
}

// SenderName returns the expanded sender display name or the raw id.
func (m Message) SenderName() string {
	if m.Expand.Sender != nil {
		return m.Expand.Sender.DisplayName()
	}
	return m.Sender
}

// MessageInput is the writable part of a Message.
type MessageInput struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Content   string `json:"content"`
	Read      bool   `json:"read"`
	Archived  bool   `json:"archived"`
}

// Assignment links a non-admin user to a customer they may log against.
type Assignment struct {
	ID       string `json:"id"`
	User     string `json:"user"`
	Customer string `json:"kunde"`
}

// EmailLog is a server-side audit row for one send-email request.
type EmailLog struct {
	ID         uuid.UUID
	RequestID  string
	Recipients int
	Subject    string
	Status     string // "sent" | "failed"
	Error      string
	CreatedAt  time.Time
}
