package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/config"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/logger"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/service"
)

// issue-token mints a student token signed with JWT_SECRET, for driving the
// session host locally without the portal's login.
func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, "")

	authService := service.NewAuthService(cfg)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Issue Student Token ===")

	fmt.Print("Enter Student ID: ")
	studentID, _ := reader.ReadString('\n')
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		fmt.Println("Error: Student ID is required")
		return
	}

	fmt.Print("Valid for hours [8]: ")
	hoursStr, _ := reader.ReadString('\n')
	hours := 8
	if s := strings.TrimSpace(hoursStr); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			fmt.Println("Error: hours must be a positive number")
			return
		}
		hours = n
	}

	token, err := authService.GenerateStudentToken(studentID, time.Duration(hours)*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}

	fmt.Println()
	fmt.Println(token)
}
