package contracts

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hilthontt/stockchat/internal/domain"
)

var ErrInvalidMessage = errors.New("invalid message")

// StockCommand asks the bot to look up a quote on behalf of a user.
type StockCommand struct {
	StockCode string    `json:"stockCode" validate:"required,max=10,stockcode"`
	Username  string    `json:"username" validate:"required,max=50"`
	RoomID    string    `json:"roomId" validate:"required,max=50,roomid"`
	Timestamp time.Time `json:"timestamp"`
}

// StockQuote carries the bot's answer back to the originating room. Quote
// is empty only for malformed upstream messages.
type StockQuote struct {
	StockCode string    `json:"stockCode" validate:"required,max=10"`
	Quote     string    `json:"quote" validate:"max=2000"`
	Username  string    `json:"username" validate:"required,max=50"`
	RoomID    string    `json:"roomId" validate:"required,max=50,roomid"`
	Timestamp time.Time `json:"timestamp"`
}

var (
	stockCodePattern = regexp.MustCompile(`^[a-zA-Z.]+$`)
	roomIDPattern    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("stockcode", func(fl validator.FieldLevel) bool {
		return stockCodePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("roomid", func(fl validator.FieldLevel) bool {
		return roomIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// NewStockCommand builds a validated command. An empty roomID falls back to
// the lobby.
func NewStockCommand(stockCode, username, roomID string, at time.Time) (StockCommand, error) {
	if roomID == "" {
		roomID = domain.LobbyRoomID
	}

	cmd := StockCommand{
		StockCode: strings.TrimSpace(stockCode),
		Username:  username,
		RoomID:    roomID,
		Timestamp: at.UTC(),
	}

	return cmd, cmd.Validate()
}

func NewStockQuote(stockCode, quote, username, roomID string, at time.Time) (StockQuote, error) {
	if roomID == "" {
		roomID = domain.LobbyRoomID
	}

	q := StockQuote{
		StockCode: stockCode,
		Quote:     quote,
		Username:  username,
		RoomID:    roomID,
		Timestamp: at.UTC(),
	}

	return q, q.Validate()
}

func (c StockCommand) Validate() error {
	return check(c)
}

func (q StockQuote) Validate() error {
	return check(q)
}

// ValidateStockCode applies the same rules NewStockCommand uses to a bare
// symbol.
func ValidateStockCode(code string) error {
	if err := validate.Var(code, "required,max=10,stockcode"); err != nil {
		return fmt.Errorf("%w: stock code must be 1-10 letters or dots", ErrInvalidMessage)
	}
	return nil
}

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidMessage, strings.Join(fields, ", "))
	}

	return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
}
