package itinerary

import "time"

const demoLayout = "2006-01-02 15:04"

func at(value string) time.Time {
	t, err := time.ParseInLocation(demoLayout, value, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

// DemoItineraries returns the disrupted and on-time bookings.
func DemoItineraries() []*Itinerary {
	return []*Itinerary{
		{
			ConfirmationNumber: "IR-D204",
			Name:               "Paris to New York to Austin",
			PassengerName:      "Morgan Lee",
			SeatNumber:         "14C",
			BaggageTag:         "BG20488",
			Legs: []Leg{
				{
					FlightNumber:       "PA441",
					Origin:             "CDG",
					OriginCity:         "Paris",
					Destination:        "JFK",
					DestinationCity:    "New York",
					ScheduledDeparture: at("2024-12-09 14:10"),
					ScheduledArrival:   at("2024-12-09 17:40"),
					EstimatedDeparture: at("2024-12-09 19:55"),
					EstimatedArrival:   at("2024-12-09 23:25"),
					Status:             LegDelayed,
					StatusText:         "Delayed 5 hours due to weather, expected departure 19:55",
					Gate:               "B18",
				},
				{
					FlightNumber:       "NY802",
					Origin:             "JFK",
					OriginCity:         "New York",
					Destination:        "AUS",
					DestinationCity:    "Austin",
					ScheduledDeparture: at("2024-12-09 19:10"),
					ScheduledArrival:   at("2024-12-09 22:35"),
					Status:             LegMissedConnection,
					StatusText:         "Connection missed because of first leg delay",
					Gate:               "C7",
				},
			},
			Vouchers: []Voucher{
				{Kind: "hotel", Description: "Overnight hotel covered up to $180 near JFK Terminal 5 partner hotel", Amount: 180},
				{Kind: "meal", Description: "$60 meal credit for the delay", Amount: 60},
				{Kind: "ground", Description: "$40 ground transport credit to the hotel", Amount: 40},
			},
		},
		{
			ConfirmationNumber: "LL0EZ6",
			Name:               "On-time commuter flight",
			PassengerName:      "Taylor Lee",
			SeatNumber:         "23A",
			BaggageTag:         "BG55678",
			Legs: []Leg{
				{
					FlightNumber:       "FLT-123",
					Origin:             "SFO",
					OriginCity:         "San Francisco",
					Destination:        "LAX",
					DestinationCity:    "Los Angeles",
					ScheduledDeparture: at("2024-12-09 16:10"),
					ScheduledArrival:   at("2024-12-09 17:35"),
					Status:             LegOnTime,
					StatusText:         "On time and operating as scheduled",
					Gate:               "A10",
				},
			},
		},
	}
}

// DemoFlights returns the bookable inventory, including JFK-AUS reaccommodation flights.
func DemoFlights() []Flight {
	return []Flight{
		{
			FlightNumber: "NY950", Origin: "JFK", OriginCity: "New York", Destination: "AUS", DestinationCity: "Austin",
			Departure: at("2024-12-10 09:45"), Arrival: at("2024-12-10 12:30"), Seat: "2A",
			Note: "Partner flight secured with auto-reaccommodation for disrupted travelers", SeatsAvailable: 4, Class: "Economy",
		},
		{
			FlightNumber: "NY982", Origin: "JFK", OriginCity: "New York", Destination: "AUS", DestinationCity: "Austin",
			Departure: at("2024-12-10 13:20"), Arrival: at("2024-12-10 16:05"), Seat: "3C",
			Note: "Backup option if the morning flight is full", SeatsAvailable: 9, Class: "Economy",
		},
		{
			FlightNumber: "NY990", Origin: "JFK", OriginCity: "New York", Destination: "AUS", DestinationCity: "Austin",
			Departure: at("2024-12-10 18:05"), Arrival: at("2024-12-10 20:50"), Seat: "17D",
			Note: "Evening service", SeatsAvailable: 31, Class: "Economy",
		},
		{
			FlightNumber: "DA100", Origin: "JFK", OriginCity: "New York", Destination: "LAX", DestinationCity: "Los Angeles",
			Departure: at("2024-12-15 08:00"), Arrival: at("2024-12-15 11:30"), Price: 299, SeatsAvailable: 45, Class: "Economy",
		},
		{
			FlightNumber: "DA101", Origin: "JFK", OriginCity: "New York", Destination: "LAX", DestinationCity: "Los Angeles",
			Departure: at("2024-12-15 14:00"), Arrival: at("2024-12-15 17:30"), Price: 349, SeatsAvailable: 22, Class: "Economy",
		},
		{
			FlightNumber: "DA200", Origin: "LAX", OriginCity: "Los Angeles", Destination: "ORD", DestinationCity: "Chicago",
			Departure: at("2024-12-16 09:00"), Arrival: at("2024-12-16 14:45"), Price: 275, SeatsAvailable: 60, Class: "Economy",
		},
		{
			FlightNumber: "DA305", Origin: "ORD", OriginCity: "Chicago", Destination: "MIA", DestinationCity: "Miami",
			Departure: at("2024-12-17 11:00"), Arrival: at("2024-12-17 15:30"), Price: 225, SeatsAvailable: 35, Class: "Economy",
		},
	}
}
