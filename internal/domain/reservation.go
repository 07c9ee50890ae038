package domain

import "time"

// ReservationStatus отражает состояние резерва.
type ReservationStatus string

const (
	// ReservationStatusPending — сток удержан, ждём подтверждения или снятия.
	ReservationStatusPending ReservationStatus = "pending"
	// ReservationStatusConfirmed — резерв превращён в окончательное списание.
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	// ReservationStatusReleased — резерв снят, количество вернулось в available.
	ReservationStatusReleased ReservationStatus = "released"
	// ReservationStatusExpired — резерв снят sweeper'ом по истечении срока.
	ReservationStatusExpired ReservationStatus = "expired"
)

// Reservation — ограниченное по времени удержание стока под заказ.
// Количество учитывается в Reserved родительской позиции только пока
// статус pending; любой терминальный статус окончателен.
type Reservation struct {
	ID        string
	ItemID    string
	ProductID string
	SKU       string
	// OrderID — слабая ссылка на заказ для корреляции; может быть пустой.
	OrderID string
	Qty     int64
	Status  ReservationStatus

	CreatedAt time.Time
	ExpiresAt time.Time
	// ConfirmedAt/ReleasedAt проставляются при входе в соответствующий статус.
	ConfirmedAt *time.Time
	ReleasedAt  *time.Time
}

// IsTerminal сообщает, что резерв больше не может менять состояние.
func (r *Reservation) IsTerminal() bool {
	return r.Status != ReservationStatusPending
}

// IsExpired сообщает, что дедлайн резерва прошёл.
func (r *Reservation) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Validate проверяет, корректно ли заполнены ключевые поля резерва.
func (r *Reservation) Validate() []error {
	var errs []error

	if r.ProductID == "" {
		errs = append(errs, ErrProductRequired)
	}
	if r.Qty <= 0 {
		errs = append(errs, ErrReservationQtyInvalid)
	}

	return errs
}
