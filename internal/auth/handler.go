package auth

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrLoginDisabled      = errors.New("admin login is not configured")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// HashPassword produces the value expected in ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Admin checks the single admin password.
type Admin struct {
	passwordHash []byte
}

func NewAdmin(passwordHash string) *Admin {
	return &Admin{passwordHash: []byte(passwordHash)}
}

func (a *Admin) Authenticate(password string) error {
	if len(a.passwordHash) == 0 {
		return ErrLoginDisabled
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

type LoginRequest struct {
	Password string `json:"password"`
}

type Handler struct {
	admin      *Admin
	jwtService *JWTService
}

func NewHandler(admin *Admin, jwtService *JWTService) *Handler {
	return &Handler{admin: admin, jwtService: jwtService}
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := h.admin.Authenticate(req.Password); err != nil {
		if errors.Is(err, ErrLoginDisabled) {
			log.Println("Auth: login attempted but ADMIN_PASSWORD_HASH is not set")
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	token, err := h.jwtService.GenerateToken("admin")
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate token",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Login successful",
		"token":   token,
	})
}
