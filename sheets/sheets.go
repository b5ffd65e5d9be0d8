package sheets

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"giveaway_ref_bot/store"
)

// Подписи статуса подписки в колонке G
const (
	StatusSubscribedLabel = "✅ Підписаний"
	StatusLeftLabel       = "❌ Вийшов"
)

var header = []interface{}{"user_id", "username", "channel", "invited_ids", "invited_count", "notified", "status"}

var updatedRowRe = regexp.MustCompile(`![A-Z]+(\d+)`)

// SheetsClient — хранилище участников в листе Google Sheets.
// Колонки: A user_id | B username | C channel | D invited_ids | E invited_count | F notified | G status
type SheetsClient struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string

	// Кэш номеров строк для быстрого поиска
	cacheMutex sync.RWMutex
	rowIndex   map[store.Key]int
}

// CredentialsOption выбирает способ авторизации: JSON из переменной окружения
// имеет приоритет над файлом
func CredentialsOption(credentialsPath, credentialsJSON string) option.ClientOption {
	if credentialsJSON != "" {
		return option.WithCredentialsJSON([]byte(credentialsJSON))
	}
	return option.WithCredentialsFile(credentialsPath)
}

func NewSheetsClient(ctx context.Context, spreadsheetID, sheetName string, opts ...option.ClientOption) (*SheetsClient, error) {
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента Google Sheets: %w", err)
	}

	client := &SheetsClient{
		service:       service,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		rowIndex:      make(map[store.Key]int),
	}

	// Загружаем кэш при инициализации
	if err := client.LoadCache(ctx); err != nil {
		log.Printf("Предупреждение: не удалось загрузить кэш при инициализации: %v", err)
	}

	return client, nil
}

func (sc *SheetsClient) dataRange() string {
	return fmt.Sprintf("%s!A2:G", sc.sheetName)
}

func (sc *SheetsClient) rowRange(n int) string {
	return fmt.Sprintf("%s!A%d:G%d", sc.sheetName, n, n)
}

// EnsureHeader записывает заголовок, если первая строка пуста
func (sc *SheetsClient) EnsureHeader(ctx context.Context) error {
	resp, err := sc.service.Spreadsheets.Values.Get(sc.spreadsheetID, sc.rowRange(1)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("ошибка чтения заголовка листа %s: %w", sc.sheetName, err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	_, err = sc.service.Spreadsheets.Values.Update(
		sc.spreadsheetID,
		sc.rowRange(1),
		&sheets.ValueRange{Values: [][]interface{}{header}},
	).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("ошибка записи заголовка листа %s: %w", sc.sheetName, err)
	}
	log.Printf("Записан заголовок листа %s", sc.sheetName)
	return nil
}

// LoadCache перечитывает лист и обновляет номера строк
func (sc *SheetsClient) LoadCache(ctx context.Context) error {
	_, err := sc.scan(ctx)
	return err
}

// scan читает весь лист, обновляет кэш и возвращает корректные строки с их номерами
func (sc *SheetsClient) scan(ctx context.Context) (map[int]*store.Row, error) {
	resp, err := sc.service.Spreadsheets.Values.Get(sc.spreadsheetID, sc.dataRange()).
		ValueRenderOption("UNFORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения листа %s: %w", sc.sheetName, err)
	}

	rows := make(map[int]*store.Row, len(resp.Values))
	index := make(map[store.Key]int, len(resp.Values))
	for i, values := range resp.Values {
		row, err := parseParticipantRow(values)
		if err != nil {
			continue
		}
		n := i + 2 // +2 потому что начинаем с строки 2 и индексация с 0
		if _, dup := index[row.Key()]; dup {
			log.Warnf("Повтор участника %s в строке %d, используется первая запись", row.Key(), n)
			continue
		}
		index[row.Key()] = n
		rows[n] = row
	}

	sc.cacheMutex.Lock()
	sc.rowIndex = index
	sc.cacheMutex.Unlock()

	return rows, nil
}

func (sc *SheetsClient) cachedRow(key store.Key) (int, bool) {
	sc.cacheMutex.RLock()
	defer sc.cacheMutex.RUnlock()
	n, ok := sc.rowIndex[key]
	return n, ok
}

func (sc *SheetsClient) remember(key store.Key, n int) {
	sc.cacheMutex.Lock()
	sc.rowIndex[key] = n
	sc.cacheMutex.Unlock()
}

// locate ищет строку участника: сначала по кэшу, при промахе перечитывает лист
func (sc *SheetsClient) locate(ctx context.Context, key store.Key) (int, *store.Row, error) {
	if n, ok := sc.cachedRow(key); ok {
		resp, err := sc.service.Spreadsheets.Values.Get(sc.spreadsheetID, sc.rowRange(n)).
			ValueRenderOption("UNFORMATTED_VALUE").Context(ctx).Do()
		if err != nil {
			return 0, nil, fmt.Errorf("ошибка чтения строки %d: %w", n, err)
		}
		if len(resp.Values) > 0 {
			row, err := parseParticipantRow(resp.Values[0])
			if err == nil && row.Key() == key {
				return n, row, nil
			}
		}
		// строку сдвинули или удалили вручную
	}

	rows, err := sc.scan(ctx)
	if err != nil {
		return 0, nil, err
	}
	if n, ok := sc.cachedRow(key); ok {
		return n, rows[n], nil
	}
	return 0, nil, nil
}

func (sc *SheetsClient) GetRow(ctx context.Context, key store.Key) (*store.Row, error) {
	_, row, err := sc.locate(ctx, key)
	return row, err
}

// UpsertRow перезаписывает строку участника целиком или добавляет новую в конец листа
func (sc *SheetsClient) UpsertRow(ctx context.Context, row *store.Row) error {
	key := row.Key()
	n, _, err := sc.locate(ctx, key)
	if err != nil {
		return err
	}

	valueRange := &sheets.ValueRange{Values: [][]interface{}{encodeParticipantRow(row)}}

	if n > 0 {
		_, err := sc.service.Spreadsheets.Values.Update(sc.spreadsheetID, sc.rowRange(n), valueRange).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("ошибка обновления участника %s (строка %d): %w", key, n, err)
		}
		log.WithFields(log.Fields{"row": n, "key": key.String(), "count": row.InvitedCount()}).
			Debug("Строка участника обновлена")
		return nil
	}

	resp, err := sc.service.Spreadsheets.Values.Append(sc.spreadsheetID, fmt.Sprintf("%s!A:G", sc.sheetName), valueRange).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("ошибка добавления участника %s: %w", key, err)
	}

	if resp.Updates != nil {
		if n, ok := rowFromUpdatedRange(resp.Updates.UpdatedRange); ok {
			sc.remember(key, n)
			log.WithFields(log.Fields{"row": n, "key": key.String()}).Info("Добавлен участник")
		}
	}
	return nil
}

func (sc *SheetsClient) ListRows(ctx context.Context) ([]*store.Row, error) {
	rows, err := sc.scan(ctx)
	if err != nil {
		return nil, err
	}

	numbers := make([]int, 0, len(rows))
	for n := range rows {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	out := make([]*store.Row, 0, len(rows))
	for _, n := range numbers {
		out = append(out, rows[n])
	}
	return out, nil
}

func encodeParticipantRow(row *store.Row) []interface{} {
	return []interface{}{
		strconv.FormatInt(row.UserID, 10), // Колонка A: ID
		row.Username,                      // Колонка B: Username
		row.Channel,                       // Колонка C: Канал
		store.EncodeIDs(row.InvitedIDs),   // Колонка D: Приглашённые
		row.InvitedCount(),                // Колонка E: Количество
		store.FormatFlag(row.Notified),    // Колонка F: Уведомлён
		statusLabel(row.Status),           // Колонка G: Подписка
	}
}

// parseParticipantRow парсит строку участника; короткие строки и нечисловой ID
// считаются повреждёнными
func parseParticipantRow(values []interface{}) (*store.Row, error) {
	if len(values) < 3 {
		return nil, store.ErrInconsistentRow
	}

	id, ok := parseID(values[0])
	if !ok {
		return nil, store.ErrInconsistentRow
	}
	channel := getStringValue(values[2])
	if channel == "" {
		return nil, store.ErrInconsistentRow
	}

	row := &store.Row{
		UserID:   id,
		Username: getStringValue(values[1]),
		Channel:  channel,
	}
	if len(values) > 3 {
		// старые листы могли содержать собственный ID участника
		row.InvitedIDs = store.DecodeIDs(getStringValue(values[3])).Without(id)
	}
	// Колонка E не читается: количество всегда пересчитывается из списка
	if len(values) > 5 {
		row.Notified = store.ParseFlag(getStringValue(values[5]))
	}
	if len(values) > 6 {
		row.Status = parseStatusLabel(getStringValue(values[6]))
	}
	return row, nil
}

func parseID(val interface{}) (int64, bool) {
	switch v := val.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return store.ParseUserID(getStringValue(val))
	}
}

func statusLabel(s store.Status) string {
	switch s {
	case store.StatusSubscribed:
		return StatusSubscribedLabel
	case store.StatusLeft:
		return StatusLeftLabel
	default:
		return ""
	}
}

func parseStatusLabel(label string) store.Status {
	switch label {
	case StatusSubscribedLabel:
		return store.StatusSubscribed
	case StatusLeftLabel:
		return store.StatusLeft
	default:
		return store.StatusUnknown
	}
}

// rowFromUpdatedRange достаёт номер строки из ответа вида "Giveaway!A5:G5"
func rowFromUpdatedRange(r string) (int, bool) {
	m := updatedRowRe.FindStringSubmatch(r)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Helper functions
func getStringValue(val interface{}) string {
	if val == nil {
		return ""
	}
	if f, ok := val.(float64); ok {
		// UNFORMATTED_VALUE отдаёт числа как float64
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strings.TrimSpace(fmt.Sprintf("%v", val))
}
