// Package cli реализует инструмент командной строки Semaphore.
//
// CLI — клиентская утилита для работы с Semaphore API: ручной запуск
// сбора, проверка завершённости, timeout, сводка и просмотр команд.
// Работает через HTTP и не импортирует внутренние пакеты системы.
//
// Данные выводятся в stdout (таблица через text/tabwriter или JSON
// с флагом --json), сообщения — в stderr, так что вывод дружит с pipe:
//
//	semaphore scheduler check my_dag run_123 --json | jq .data
//
// Каждая группа команд создаётся фабричной функцией (NewSchedulerCmd
// и т.д.), принимающей clientFn и outputFn — замыкания для ленивого
// создания Client и Output после парсинга PersistentFlags.
package cli
