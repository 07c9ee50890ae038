package domain

import "time"

// Address — снимок адреса на момент оформления заказа. Заказ владеет
// своими адресами целиком: правки профиля клиента на него не влияют.
type Address struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string
	Phone      string
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// ProductID — ссылка на товар в каталоге.
	ProductID string
	// SKU — внешний складской идентификатор товара.
	SKU string
	// Qty — количество единиц товара.
	Qty int32
	// PriceMinor — цена за единицу в минимальных денежных единицах (например, копейки).
	PriceMinor int64
	// SubtotalMinor = Qty * PriceMinor.
	SubtotalMinor int64
	// TaxMinor — налог на позицию.
	TaxMinor int64
	// TotalMinor = SubtotalMinor + TaxMinor.
	TotalMinor int64
	// CreatedAt фиксирует момент добавления позиции в заказ.
	CreatedAt time.Time
}

// Order агрегирует состояние заказа: шапку, позиции, адреса и суммы.
// Статус меняется только через state machine (service/order), никакой
// другой компонент не пишет в Status напрямую.
type Order struct {
	ID         string
	Number     string // бизнес-номер, последовательный в пределах дня: ORD-YYYYMMDD-NNNNNN
	CustomerID string
	Status     OrderStatus
	Currency   string

	// Денежные суммы храним как int64 в минимальных единицах — никакого float.
	SubtotalMinor int64
	TaxMinor      int64
	ShippingMinor int64
	DiscountMinor int64
	TotalMinor    int64

	ShippingAddress Address
	BillingAddress  Address
	Items           []OrderItem

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time

	// Таймстемпы жизненного цикла; проставляются state machine при входе в статус.
	PaidAt      *time.Time
	ConfirmedAt *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
	CompletedAt *time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	// Сверяем суммы заказа с позициями.
	var subtotal, tax int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		subtotal += item.SubtotalMinor
		tax += item.TaxMinor
	}
	if subtotal != o.SubtotalMinor || tax != o.TaxMinor {
		errs = append(errs, ErrTotalMismatch)
	}
	// Итог: позиции + налог + доставка - скидка.
	if o.SubtotalMinor+o.TaxMinor+o.ShippingMinor-o.DiscountMinor != o.TotalMinor {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// RecalculateTotals пересчитывает производные суммы позиций и заказа.
// Вызывается при сборке заказа до первого сохранения.
func (o *Order) RecalculateTotals() {
	var subtotal, tax int64
	for i := range o.Items {
		item := &o.Items[i]
		item.SubtotalMinor = int64(item.Qty) * item.PriceMinor
		item.TotalMinor = item.SubtotalMinor + item.TaxMinor
		subtotal += item.SubtotalMinor
		tax += item.TaxMinor
	}
	o.SubtotalMinor = subtotal
	o.TaxMinor = tax
	o.TotalMinor = subtotal + tax + o.ShippingMinor - o.DiscountMinor
}
